// Package repository 定义领域对象的持久化接口。
// 查询单个对象的方法在记录不存在时返回 nil, nil，由调用方决定是否映射为业务错误。
package repository

import (
	"context"
	"errors"
)

// ErrArtifactExists 同一场景已有分镜，唯一约束冲突时返回
var ErrArtifactExists = errors.New("visual artifact already exists for scene")

// TxKey 在 context 中携带事务句柄的键
type TxKey struct{}

// Transactor 把多次仓储写入放进同一事务，例如流水线启动时的阶段记录与进度初始化
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
