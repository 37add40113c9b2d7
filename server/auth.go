package server

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"imsim/protocol"
)

const maxDisplayNameLen = 32

// 拒绝原因（直接展示给客户端）
const (
	reasonPasswordRequired = "A password is required to join this server."
	reasonPasswordWrong    = "The password you gave is incorrect."
	reasonNameEmpty        = "The display name must not be empty."
)

// RoomPolicy 房间的准入策略：无密码或固定密码（只保存 bcrypt 哈希）
type RoomPolicy struct {
	hash []byte
}

// OpenRoom 无密码房间
func OpenRoom() RoomPolicy {
	return RoomPolicy{}
}

// PasswordRoom 需要密码的房间
func PasswordRoom(password string, cost int) (RoomPolicy, error) {
	h, err := bcrypt.GenerateFromPassword(prehash(password), cost)
	if err != nil {
		return RoomPolicy{}, fmt.Errorf("hash room password: %w", err)
	}
	return RoomPolicy{hash: h}, nil
}

// RequiresPassword 是否需要密码
func (p RoomPolicy) RequiresPassword() bool {
	return len(p.hash) > 0
}

func (p RoomPolicy) matches(attempt string) bool {
	return bcrypt.CompareHashAndPassword(p.hash, prehash(attempt)) == nil
}

// prehash bcrypt 只使用前 72 字节，先做 SHA-256 让任意长度的密码都完整参与比较
func prehash(pw string) []byte {
	sum := sha256.Sum256([]byte(pw))
	return sum[:]
}

// NameLookup 查询显示名是否已被占用
type NameLookup interface {
	IDOf(name string) (protocol.ConnID, bool)
}

// Decision 握手判定结果；Reason 仅在拒绝时有意义
type Decision struct {
	Accept bool
	Reason string
}

// Authenticate 纯判定函数，按顺序匹配，第一条命中即返回
func Authenticate(policy RoomPolicy, names NameLookup, req protocol.JoinRequest) Decision {
	if policy.RequiresPassword() {
		if req.RoomPassword == nil {
			return Decision{Reason: reasonPasswordRequired}
		}
		if !policy.matches(*req.RoomPassword) {
			return Decision{Reason: reasonPasswordWrong}
		}
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return Decision{Reason: reasonNameEmpty}
	}
	if len(req.DisplayName) > maxDisplayNameLen {
		return Decision{Reason: fmt.Sprintf("The display name must be at most %d bytes long.", maxDisplayNameLen)}
	}
	if _, taken := names.IDOf(req.DisplayName); taken {
		return Decision{Reason: fmt.Sprintf("The requested display name `%s` is already in use on this server.", req.DisplayName)}
	}
	return Decision{Accept: true}
}
