package testutil

import "testing"

// Given, When and Then nest subtests so a scenario reads top to bottom.
func Given(t *testing.T, desc string, fn func(t *testing.T)) { t.Helper(); t.Run("given "+desc, fn) }

func When(t *testing.T, desc string, fn func(t *testing.T)) { t.Helper(); t.Run("when "+desc, fn) }

func Then(t *testing.T, desc string, fn func(t *testing.T)) { t.Helper(); t.Run("then "+desc, fn) }
