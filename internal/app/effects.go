package app

import (
	"herald/internal/api"
	"herald/internal/effects"
	"herald/internal/notice"
	logx "herald/pkg/logx"
)

// boundEffects is the default headless effect set: navigation resolves
// conversations against the server and announces targets on the log, alarms
// ring the terminal bell. A host surface with a real UI swaps these out by
// wiring its own Navigator/Alerter before Run.
type boundEffects struct {
	approval notice.Handler
	result   notice.Handler
	alarm    notice.RingFunc
}

func effectsNavigator(client *api.Client, log logx.Logger) boundEffects {
	elog := log.With(logx.String("comp", "effects"))
	nav := effects.NewAPINavigator(client, elog)
	bell := effects.BellAlerter{Out: logx.Stdout()}
	return boundEffects{
		approval: effects.ApprovalHandler(nav, client, elog),
		result:   effects.ResultHandler(nav, client, elog),
		alarm:    effects.AlarmRing(bell, client, elog),
	}
}
