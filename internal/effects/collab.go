package effects

import (
	"context"
	"fmt"
	"io"

	"herald/internal/api"
	"herald/internal/store"
	logx "herald/pkg/logx"
)

// APINavigator is the headless Navigator: it resolves conversations against
// the server but has no UI to move, so "navigation" is announced on the log
// for whatever front end tails it. A real interaction surface supplies its
// own Navigator instead.
type APINavigator struct {
	api *api.Client
	log logx.Logger
}

func NewAPINavigator(c *api.Client, log logx.Logger) *APINavigator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &APINavigator{api: c, log: log}
}

func (n *APINavigator) OpenApprovals(ctx context.Context, ref string) error {
	conv, err := n.api.OpenApprovalsConversation(ctx)
	if err != nil {
		return fmt.Errorf("open approvals conversation: %w", err)
	}
	n.log.Info("navigate",
		logx.Int64("conversation_id", conv.ID),
		logx.String("kind", "approvals"),
		logx.String("ref", ref))
	return nil
}

func (n *APINavigator) OpenCurrent(ctx context.Context, ref string) error {
	_ = ctx
	n.log.Info("navigate",
		logx.String("kind", "current"),
		logx.String("ref", ref))
	return nil
}

// BellAlerter rings by writing the terminal bell plus a one-line summary.
type BellAlerter struct {
	Out io.Writer
}

func (b BellAlerter) Ring(ctx context.Context, n store.Notification) error {
	_ = ctx
	if b.Out == nil {
		return nil
	}
	title, _ := n.PayloadString("title")
	_, err := fmt.Fprintf(b.Out, "\a[alarm] %s (notification %d)\n", title, n.ID)
	return err
}
