package cli

import (
	"context"
	"fmt"

	"github.com/szhyhun/resque/hook"
	"github.com/szhyhun/resque/payload"
)

// registerBuiltinJobs is the fixed registration point a real deployment
// would replace with its own job classes. Go has no dynamic class loading
// (unlike the Ruby original, which requires app-defined job files at
// startup), so this binary ships one concrete class -- Echo -- as a
// runnable demonstration of the Hook Pipeline wiring rather than a
// placeholder left empty.
func registerBuiltinJobs(r *hook.Registry) {
	r.Register("Echo", hook.Hooks{
		Perform: func(ctx context.Context, p payload.Payload) error {
			fmt.Printf("echo: %s %v\n", p.ID, p.Args)
			return nil
		},
	})
}
