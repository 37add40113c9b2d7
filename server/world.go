package server

import (
	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-gl/mathgl/mgl32"

	"imsim/protocol"
)

// Box 静态障碍物（轴对齐包围盒）
type Box struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Ramp 斜坡：水平投影为 [Min, Max]，表面高度沿 Axis（0 为 X，2 为 Z）从 Min.Y 线性升到 Max.Y
type Ramp struct {
	Min  mgl32.Vec3
	Max  mgl32.Vec3
	Axis int
}

func (r Ramp) covers(p mgl32.Vec3) bool {
	return p.X() >= r.Min.X() && p.X() <= r.Max.X() && p.Z() >= r.Min.Z() && p.Z() <= r.Max.Z()
}

func (r Ramp) rise() float32 {
	return (r.Max.Y() - r.Min.Y()) / (r.Max[r.Axis] - r.Min[r.Axis])
}

func (r Ramp) heightAt(p mgl32.Vec3) float32 {
	return r.Min.Y() + (p[r.Axis]-r.Min[r.Axis])*r.rise()
}

// normal 表面法线，向上为正
func (r Ramp) normal() mgl32.Vec3 {
	n := worldUp
	n[r.Axis] = -r.rise()
	return n.Normalize()
}

// World 头像注册表；按生成顺序遍历，保证镜像与广播顺序稳定
type World struct {
	avatars   *orderedmap.OrderedMap[AvatarHandle, *Avatar]
	obstacles []Box
	ramps     []Ramp
	next      AvatarHandle
}

func NewWorld(obstacles ...Box) *World {
	return &World{
		avatars:   orderedmap.NewOrderedMap[AvatarHandle, *Avatar](),
		obstacles: obstacles,
	}
}

// SpawnParams 生成头像所需参数
type SpawnParams struct {
	Owner       protocol.ConnID
	Name        string
	Translation mgl32.Vec3
	Rotation    mgl32.Quat
	Tint        protocol.Tint
	Tuning      MovementTuning
}

// Spawn 根据通过的握手创建权威头像；复制变换初始即等于权威变换
func (w *World) Spawn(p SpawnParams) *Avatar {
	w.next++
	t := protocol.FromTranslation(p.Translation, p.Rotation)
	a := &Avatar{
		Handle:       w.next,
		Owner:        p.Owner,
		Name:         p.Name,
		Tint:         p.Tint,
		Transform:    t,
		Replicated:   t,
		Tuning:       p.Tuning,
		GroundNormal: mgl32.Vec3{0, 1, 0},
		Parts:        defaultParts(),
	}
	a.setState(protocol.Airborne)
	w.avatars.Set(a.Handle, a)
	return a
}

// Despawn 移除头像及其所有碰撞部件
func (w *World) Despawn(h AvatarHandle) (*Avatar, bool) {
	a, ok := w.avatars.Get(h)
	if !ok {
		return nil, false
	}
	a.Parts = nil
	w.avatars.Delete(h)
	return a, true
}

// Get 按句柄查找头像
func (w *World) Get(h AvatarHandle) (*Avatar, bool) {
	return w.avatars.Get(h)
}

// Len 头像数量
func (w *World) Len() int {
	return w.avatars.Len()
}

// Each 按生成顺序遍历
func (w *World) Each(fn func(a *Avatar)) {
	for el := w.avatars.Front(); el != nil; el = el.Next() {
		fn(el.Value)
	}
}

