package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件，按文件名中的版本号顺序执行。
//
//go:embed *.sql
var Files embed.FS
