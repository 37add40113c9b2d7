package server

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"imsim/protocol"
)

// groundContact 头像原点到脚底的距离
const groundContact = avatarHeight * 0.5

const (
	// stepHeight 脚底以上多高的斜坡表面仍可踩上去
	stepHeight float32 = 0.35
	groundSnap float32 = 0.1
)

// stepPhysics 重力、积分、地面接触与头顶遮挡检测，然后更新运动状态
func stepPhysics(w *World, dt float32) {
	w.Each(func(a *Avatar) {
		prevFeet := a.Transform.Translation.Y() - groundContact
		a.Velocity[1] -= a.Tuning.Gravity * dt
		a.Transform.Translation = a.Transform.Translation.Add(a.Velocity.Mul(dt))

		feet := a.Transform.Translation.Y() - groundContact
		height, normal := w.groundAt(a.Transform.Translation, prevFeet)
		// 已着地的头像沿下坡移动时贴住地面
		snap := feet <= height || (a.Grounded && a.Velocity.Y() <= 0 && feet-height <= groundSnap)
		if snap {
			a.Transform.Translation[1] = height + groundContact
			if a.Velocity.Y() < 0 {
				a.Velocity[1] = 0
			}
			a.Grounded = true
			a.GroundNormal = normal
		} else {
			a.Grounded = false
		}
		a.HeadBlocked = w.headBlocked(a)

		switch {
		case !a.Grounded && a.State != protocol.Airborne:
			a.setState(protocol.Airborne)
		case a.Grounded && a.State == protocol.Airborne:
			// 落地取消蹲伏
			a.setState(protocol.Standing)
		}
	})
}

// groundAt 脚下的地面高度与法线：地平面 y=0，加上覆盖该点且不高于 feet+stepHeight 的最高斜坡
func (w *World) groundAt(p mgl32.Vec3, feet float32) (float32, mgl32.Vec3) {
	height, normal := float32(0), worldUp
	for _, r := range w.ramps {
		if !r.covers(p) {
			continue
		}
		if h := r.heightAt(p); h > height && h <= feet+stepHeight {
			height, normal = h, r.normal()
		}
	}
	return height, normal
}

// headBlocked 上半身碰撞球是否与任何静态障碍物重叠
func (w *World) headBlocked(a *Avatar) bool {
	upper, ok := a.part(UpperPart)
	if !ok {
		return false
	}
	center := a.Transform.Translation.Add(a.Transform.Rotation.Rotate(upper.Offset))
	for _, b := range w.obstacles {
		if sphereOverlapsBox(center, upper.Radius, b) {
			return true
		}
	}
	return false
}

func sphereOverlapsBox(c mgl32.Vec3, r float32, b Box) bool {
	var d2 float32
	for i := 0; i < 3; i++ {
		v := math32.Max(b.Min[i], math32.Min(c[i], b.Max[i]))
		d := c[i] - v
		d2 += d * d
	}
	return d2 <= r*r
}
