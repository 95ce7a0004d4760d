package tools

import (
	"context"
	"time"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

// CurrentTime reports the wall clock in the requested IANA zone.
func CurrentTime(now func() time.Time) Tool {
	return Func{
		Decl: repositories.ToolDeclaration{
			Name:        "current_time",
			Description: "Returns the current date and time.",
			Parameters: []repositories.ToolParameter{
				{Name: "timezone", Type: "string", Description: "IANA time zone name, e.g. Asia/Tokyo"},
			},
		},
		Fn: func(_ context.Context, args map[string]any) (map[string]any, error) {
			t := now()
			if tz := StringArg(args, "timezone"); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return nil, err
				}
				t = t.In(loc)
			}
			return map[string]any{
				"time":    t.Format(time.RFC3339),
				"weekday": t.Weekday().String(),
			}, nil
		},
	}
}
