package auth

import "github.com/ethereum/go-ethereum/common"

// NormalizeAddress 将合法的十六进制地址规整为 EIP-55 校验和形式，
// 使角色比对不受大小写影响。其它标识按不透明字符串原样返回。
func NormalizeAddress(value string) string {
	if common.IsHexAddress(value) {
		return common.HexToAddress(value).Hex()
	}
	return value
}
