// Package errdefs defines the error taxonomy shared by the plugin runtime.
//
// # Overview
//
// Every fallible operation returns an error wrapping one of the sentinels so
// callers can branch with errors.Is or the Is* helpers:
//
//	if err := ctx.Install(d); errdefs.IsConflict(err) {
//		// a plugin with the same identifier is already installed
//	}
//
// # Last Error
//
// Slot carries error detail for the few operations that return a bare value,
// such as Context.ResolveExtPoint. It is scoped to its owner and is never
// reset implicitly; read it right after the call that may have failed.
package errdefs
