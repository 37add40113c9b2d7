package server

import (
	"fmt"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pelletier/go-toml"
	"golang.org/x/crypto/bcrypt"
)

// MovementTuning 头像运动参数（可通过 /admin/config 热更新）
type MovementTuning struct {
	Acceleration   float32 `toml:"acceleration" json:"acceleration"`
	LateralDamping float32 `toml:"lateral_damping" json:"lateralDamping"`
	JumpImpulse    float32 `toml:"jump_impulse" json:"jumpImpulse"`
	Gravity        float32 `toml:"gravity" json:"gravity"`
}

// SpawnArea 出生区域：水平正方形 [-HalfExtent, HalfExtent) 与固定投放高度
type SpawnArea struct {
	HalfExtent float32 `toml:"half_extent"`
	DropHeight float32 `toml:"drop_height"`
}

// ObstacleConfig 静态障碍物（轴对齐包围盒），坐标为 [x, y, z]
type ObstacleConfig struct {
	Min []float32 `toml:"min"`
	Max []float32 `toml:"max"`
}

func (o ObstacleConfig) box() (Box, error) {
	if len(o.Min) != 3 || len(o.Max) != 3 {
		return Box{}, fmt.Errorf("obstacle corners need 3 coordinates, got %d and %d", len(o.Min), len(o.Max))
	}
	b := Box{Min: mgl32.Vec3{o.Min[0], o.Min[1], o.Min[2]}, Max: mgl32.Vec3{o.Max[0], o.Max[1], o.Max[2]}}
	for i := 0; i < 3; i++ {
		if b.Min[i] > b.Max[i] {
			return Box{}, fmt.Errorf("obstacle min %v exceeds max %v", b.Min, b.Max)
		}
	}
	return b, nil
}

// RampConfig 斜坡；Axis 为 "x" 或 "z"，表面沿该轴从 min 的高度升到 max 的高度
type RampConfig struct {
	Min  []float32 `toml:"min"`
	Max  []float32 `toml:"max"`
	Axis string    `toml:"axis"`
}

func (o RampConfig) ramp() (Ramp, error) {
	b, err := ObstacleConfig{Min: o.Min, Max: o.Max}.box()
	if err != nil {
		return Ramp{}, fmt.Errorf("ramp: %w", err)
	}
	r := Ramp{Min: b.Min, Max: b.Max}
	switch o.Axis {
	case "x":
		r.Axis = 0
	case "z":
		r.Axis = 2
	default:
		return Ramp{}, fmt.Errorf("ramp axis must be x or z, got %q", o.Axis)
	}
	if r.Max[r.Axis] == r.Min[r.Axis] {
		return Ramp{}, fmt.Errorf("ramp has no length along %s", o.Axis)
	}
	return r, nil
}

// Config 服务端配置；文件为 TOML，命令行参数覆盖文件中的值
type Config struct {
	Addr         string `toml:"addr"`
	AdminAddr    string `toml:"admin_addr"`
	RoomPassword string `toml:"room_password"`
	MaxClients   int    `toml:"max_clients"`
	TickRate     int    `toml:"tick_rate"`

	// 每个连接的输入限流（样本/秒与突发）
	InputRate  float64 `toml:"input_rate"`
	InputBurst int     `toml:"input_burst"`

	LogFile    string `toml:"log_file"`
	LogLevel   string `toml:"log_level"`
	LogConsole bool   `toml:"log_console"`
	SentryDSN  string `toml:"sentry_dsn"`
	BcryptCost int    `toml:"bcrypt_cost"`

	Movement  MovementTuning   `toml:"movement"`
	Spawn     SpawnArea        `toml:"spawn"`
	Obstacles []ObstacleConfig `toml:"obstacle"`
	Ramps     []RampConfig     `toml:"ramp"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Addr:       ":5000",
		AdminAddr:  "127.0.0.1:8081",
		MaxClients: 32,
		TickRate:   30,
		InputRate:  90,
		InputBurst: 8,
		LogFile:    "imsim.log",
		LogLevel:   "info",
		BcryptCost: bcrypt.DefaultCost,
		Movement:   DefaultTuning(),
		Spawn: SpawnArea{
			HalfExtent: 20,
			DropHeight: 30,
		},
	}
}

// DefaultTuning 默认运动参数
func DefaultTuning() MovementTuning {
	return MovementTuning{
		Acceleration:   25,
		LateralDamping: 0.8,
		JumpImpulse:    5,
		Gravity:        9.81,
	}
}

// LoadConfig 在默认配置之上叠加 TOML 文件
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	tree, err := toml.LoadBytes(b)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	var file Config
	if err := tree.Unmarshal(&file); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.overlay(tree, file)
	return cfg, cfg.Validate()
}

// overlay 用文件中出现过的键覆盖默认值；显式写出的零值同样生效
func (c *Config) overlay(tree *toml.Tree, f Config) {
	set(tree, "addr", &c.Addr, f.Addr)
	set(tree, "admin_addr", &c.AdminAddr, f.AdminAddr)
	set(tree, "room_password", &c.RoomPassword, f.RoomPassword)
	set(tree, "log_file", &c.LogFile, f.LogFile)
	set(tree, "log_level", &c.LogLevel, f.LogLevel)
	set(tree, "log_console", &c.LogConsole, f.LogConsole)
	set(tree, "sentry_dsn", &c.SentryDSN, f.SentryDSN)
	set(tree, "max_clients", &c.MaxClients, f.MaxClients)
	set(tree, "tick_rate", &c.TickRate, f.TickRate)
	set(tree, "input_rate", &c.InputRate, f.InputRate)
	set(tree, "input_burst", &c.InputBurst, f.InputBurst)
	set(tree, "bcrypt_cost", &c.BcryptCost, f.BcryptCost)
	set(tree, "movement.acceleration", &c.Movement.Acceleration, f.Movement.Acceleration)
	set(tree, "movement.lateral_damping", &c.Movement.LateralDamping, f.Movement.LateralDamping)
	set(tree, "movement.jump_impulse", &c.Movement.JumpImpulse, f.Movement.JumpImpulse)
	set(tree, "movement.gravity", &c.Movement.Gravity, f.Movement.Gravity)
	set(tree, "spawn.half_extent", &c.Spawn.HalfExtent, f.Spawn.HalfExtent)
	set(tree, "spawn.drop_height", &c.Spawn.DropHeight, f.Spawn.DropHeight)
	set(tree, "obstacle", &c.Obstacles, f.Obstacles)
	set(tree, "ramp", &c.Ramps, f.Ramps)
}

func set[T any](tree *toml.Tree, key string, dst *T, v T) {
	if tree.Has(key) {
		*dst = v
	}
}

// Validate 检查配置是否可用
func (c Config) Validate() error {
	if c.MaxClients <= 0 {
		return fmt.Errorf("max_clients must be positive, got %d", c.MaxClients)
	}
	if c.TickRate <= 0 || c.TickRate > 1000 {
		return fmt.Errorf("tick_rate out of range: %d", c.TickRate)
	}
	if c.InputRate <= 0 || c.InputBurst <= 0 {
		return fmt.Errorf("input_rate and input_burst must be positive")
	}
	if c.Movement.LateralDamping < 0 || c.Movement.LateralDamping > 1 {
		return fmt.Errorf("lateral_damping must be within [0,1], got %v", c.Movement.LateralDamping)
	}
	if c.Spawn.HalfExtent <= 0 {
		return fmt.Errorf("spawn half_extent must be positive")
	}
	if _, err := c.Boxes(); err != nil {
		return err
	}
	if _, err := c.RampList(); err != nil {
		return err
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt_cost out of range: %d", c.BcryptCost)
	}
	return nil
}

// Boxes 将配置中的障碍物转换为世界中的包围盒
func (c Config) Boxes() ([]Box, error) {
	out := make([]Box, 0, len(c.Obstacles))
	for _, o := range c.Obstacles {
		b, err := o.box()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// RampList 将配置中的斜坡转换为世界中的斜坡
func (c Config) RampList() ([]Ramp, error) {
	out := make([]Ramp, 0, len(c.Ramps))
	for _, o := range c.Ramps {
		r, err := o.ramp()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// TickInterval 每个 Tick 的时长
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
