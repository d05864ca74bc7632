package notifier

// TextNotifier defines a minimal text notification interface.
// It is intentionally small so different components can depend on it without
// importing concrete implementations (e.g. Telegram).
type TextNotifier interface {
	SendText(text string) error
}

// Noop 丢弃所有消息，通知未启用时注入。
type Noop struct{}

func (Noop) SendText(string) error { return nil }
