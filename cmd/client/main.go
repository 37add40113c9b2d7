package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"imsim/client"
)

// 无界面客户端：连接服务端并用脚本化的输入驱动自己的头像，用于联调与压测
func main() {
	var (
		addr     string
		name     string
		password string
		tickRate int
		duration time.Duration
		verbose  bool
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:5000", "server address host:port")
	flag.StringVar(&name, "name", "", "display name (default: random)")
	flag.StringVar(&password, "password", "", "room password")
	flag.IntVar(&tickRate, "tick-rate", 30, "client ticks per second")
	flag.DurationVar(&duration, "duration", 0, "stop after this long (0: run until interrupted)")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	zcfg := zap.NewDevelopmentConfig()
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if name == "" {
		name = fmt.Sprintf("bot-%04d", rand.Intn(10000))
	}
	if tickRate <= 0 {
		fmt.Fprintln(os.Stderr, "tick-rate must be positive")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	c := client.New(client.WSDialer{Timeout: 5 * time.Second}, log)
	if err := c.Connect(client.ConnectForm{Address: addr, Password: password, DisplayName: name}); err != nil {
		log.Fatalf("connect: %v", err)
	}

	interval := time.Second / time.Duration(tickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var (
		frame  int
		joined bool
	)
	for {
		select {
		case <-ctx.Done():
			c.Disconnect()
			log.Info("bye")
			return
		case <-ticker.C:
		}

		script(c.Input, frame, float32(interval.Seconds()))
		c.Tick(ctx)
		frame++

		switch st := c.Session.State(); {
		case st == client.InGame && !joined:
			joined = true
			id, _ := c.Session.ClientID()
			log.Infof("in game as %s (connection %d)", name, id)
			if err := c.ChangeTint(uint8(rand.Intn(256)), uint8(rand.Intn(256)), uint8(rand.Intn(256))); err != nil {
				log.Warnf("change tint: %v", err)
			}
		case st == client.AwaitingUserInput:
			// 不自动重连
			log.Errorf("%s", c.Session.LastError())
			os.Exit(1)
		}

		if joined && frame%(tickRate*5) == 0 {
			if self, ok := c.Mirror.Self(); ok {
				p := self.Render.Translation
				log.Infof("tick %d: %d avatars, self at (%.2f, %.2f, %.2f) %s",
					c.Mirror.LastTick(), c.Mirror.Len(), p.X(), p.Y(), p.Z(), self.State)
			}
		}
	}
}

// script 绕圈行走，偶尔跳跃或下蹲
func script(in *client.InputAccumulator, frame int, dt float32) {
	in.Hold(client.KeyW)
	in.MouseMotion(-2, 0, dt)
	switch frame % 90 {
	case 30:
		in.Press(client.KeyJump)
	case 60:
		in.Press(client.KeyCrouch)
	case 61, 62, 63, 64, 65:
		in.Hold(client.KeyCrouch)
	case 66:
		in.Release(client.KeyCrouch)
	}
}
