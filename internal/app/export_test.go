package app

// WakeIdle exposes the wake listener's restart guard to tests.
func (a *App) WakeIdle() bool { return a.idle() }
