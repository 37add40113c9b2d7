package server

// mirrorTransforms 物理积分之后、发送之前，把权威变换拷贝到复制变换。
// 服务端从不读取复制变换做逻辑判断。
func mirrorTransforms(w *World) {
	w.Each(func(a *Avatar) {
		a.Replicated = a.Transform
	})
}
