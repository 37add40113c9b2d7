package protocol

import "github.com/go-gl/mathgl/mgl32"

// Transform 平移/旋转/缩放；服务端权威变换、复制变换与客户端渲染变换共用此结构，
// 拷贝即按位一致
type Transform struct {
	Translation mgl32.Vec3 `msgpack:"t"`
	Rotation    mgl32.Quat `msgpack:"r"`
	Scale       mgl32.Vec3 `msgpack:"s"`
}

// Identity 原点、无旋转、单位缩放
func Identity() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// FromTranslation 以给定位置和朝向构造变换
func FromTranslation(pos mgl32.Vec3, rot mgl32.Quat) Transform {
	t := Identity()
	t.Translation = pos
	t.Rotation = rot
	return t
}

// Tint 头像颜色（sRGB 8 位）
type Tint struct {
	R uint8 `msgpack:"r"`
	G uint8 `msgpack:"g"`
	B uint8 `msgpack:"b"`
}
