// Package effects binds notice kinds to their user-facing side effects.
//
// The effects themselves belong to collaborators this subsystem does not
// own: the conversation/navigation surface and the audio alerter. This
// package defines those boundaries and the glue that makes each dispatch
// individually attributable to one notification.
package effects

import (
	"context"

	"herald/internal/notice"
	"herald/internal/store"
	logx "herald/pkg/logx"
)

// Navigator is the conversation subsystem boundary.
//
// Both operations attach the notice's correlation token (ref) to the
// navigation target so the downstream surface can render an explanation tied
// to exactly one notification.
type Navigator interface {
	// OpenApprovals resolves (or creates) the dedicated approvals
	// conversation and navigates to it.
	OpenApprovals(ctx context.Context, ref string) error

	// OpenCurrent opens the current conversation, or a fresh one when none
	// is active.
	OpenCurrent(ctx context.Context, ref string) error
}

// Alerter surfaces an alarm. Owned by the audio/presentation layer.
type Alerter interface {
	Ring(ctx context.Context, n store.Notification) error
}

// Reader marks notifications read on the server. Satisfied by api.Client.
type Reader interface {
	MarkRead(ctx context.Context, id int64) error
}

// ApprovalHandler routes approval-needed notices: navigate to the approvals
// conversation, then mark the notification read.
//
// Mark-read is best-effort by contract: its failure is logged and swallowed,
// never blocking or reversing the navigation that already happened.
func ApprovalHandler(nav Navigator, rd Reader, log logx.Logger) notice.Handler {
	return func(ctx context.Context, n notice.Notice) error {
		if err := nav.OpenApprovals(ctx, n.Value); err != nil {
			return err
		}
		markRead(ctx, rd, n.NotificationID, log)
		return nil
	}
}

// ResultHandler routes result-available notices into the current (or a new)
// conversation, where a collaborator renders the outcome message.
func ResultHandler(nav Navigator, rd Reader, log logx.Logger) notice.Handler {
	return func(ctx context.Context, n notice.Notice) error {
		if err := nav.OpenCurrent(ctx, n.Value); err != nil {
			return err
		}
		markRead(ctx, rd, n.NotificationID, log)
		return nil
	}
}

// AlarmRing adapts an Alerter for the alarm path. Alarms are marked read
// after ringing so the same alarm doesn't resurface on the next session.
func AlarmRing(al Alerter, rd Reader, log logx.Logger) notice.RingFunc {
	return func(ctx context.Context, n store.Notification) error {
		if al == nil {
			return nil
		}
		if err := al.Ring(ctx, n); err != nil {
			return err
		}
		markRead(ctx, rd, n.ID, log)
		return nil
	}
}

func markRead(ctx context.Context, rd Reader, id int64, log logx.Logger) {
	if rd == nil {
		return
	}
	if err := rd.MarkRead(ctx, id); err != nil {
		log.Debug("mark-read failed (best-effort)",
			logx.Int64("notification_id", id), logx.Err(err))
	}
}
