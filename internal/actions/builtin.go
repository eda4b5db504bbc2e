package actions

// RegisterBuiltins registers every built-in action against d. Fields of d
// may be filled in after registration; actions read them on each call.
func RegisterBuiltins(r *Registry, d *Deps) error {
	for _, register := range []func() error{
		func() error { return registerStateActions(r, d) },
		func() error { return registerContextActions(r, d) },
		func() error { return registerArtifactActions(r) },
		func() error { return registerTaskActions(r, d) },
		func() error { return registerBridgeActions(r, d) },
		func() error { return registerWebhookAction(r, d) },
		func() error { return registerSessionActions(r, d) },
	} {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}
