// Package loop implements the iterative-refinement state machine at the core
// of refinery: a solver produces an initial candidate, a critic judges it,
// and a refiner revises it until the critic accepts, the interaction budget
// runs out, or refinement stops making progress.
//
// The loop handles iteration mechanics (budget, patience, cancellation,
// state history) while delegating all model judgment to pluggable Solver,
// Critic, and Refiner capabilities. Every stop reason is a distinct Outcome
// on the Result; budget exhaustion and stability stops still return the last
// candidate as a best-effort answer and are not errors.
//
// Example usage:
//
//	l, err := loop.New(solver, critic, refiner, loop.Config{
//	    MaxInteractions: 7,
//	    Patience:        2,
//	})
//	if err != nil {
//	    return err
//	}
//	result, err := l.Run(ctx, task)
package loop
