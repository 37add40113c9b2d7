package protocol

// DigitalInput 描述一个按键自上个 Tick 以来的变化。
// 客户端在丢包时依然可以让服务端假设“按住”状态延续。
type DigitalInput uint8

const (
	NotPressed DigitalInput = iota
	StartPress
	ContinuePress
	ReleasePress
)

func (d DigitalInput) String() string {
	switch d {
	case NotPressed:
		return "not_pressed"
	case StartPress:
		return "start_press"
	case ContinuePress:
		return "continue_press"
	case ReleasePress:
		return "release_press"
	default:
		return "invalid"
	}
}

// significance 同一累积窗口内的优先级：边沿事件压过持续按住
func (d DigitalInput) significance() int {
	switch d {
	case ContinuePress:
		return 1
	case StartPress:
		return 2
	case ReleasePress:
		return 3
	default:
		return 0
	}
}

// Merge 返回两次记录中更重要的一个
func (d DigitalInput) Merge(other DigitalInput) DigitalInput {
	if other.significance() > d.significance() {
		return other
	}
	return d
}

// IsPressed 本窗口结束时按键是否处于按下状态
func (d DigitalInput) IsPressed() bool {
	return d == StartPress || d == ContinuePress
}

// Valid 是否为已定义的取值
func (d DigitalInput) Valid() bool {
	return d <= ReleasePress
}
