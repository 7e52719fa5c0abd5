package scheduler

import "time"

// Clock 抽象时间来源，测试时注入假时钟驱动触发器。
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker 抽象周期信号。
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// realClock 生产环境使用的系统时钟。
type realClock struct{}

// NewRealClock 返回系统时钟。
func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t realTicker) C() <-chan time.Time { return t.ticker.C }
func (t realTicker) Stop()               { t.ticker.Stop() }
