package marking

import "context"

// MatchResult is the decision returned by a biometric comparison. Distance
// is the descriptor distance when the backend reports one.
type MatchResult struct {
	IsMatch  bool
	Distance *float64
}

// Verifier is the external biometric capability the workflow consumes. An
// error from Verify means the comparison could not run at all (I/O failure,
// no face detected, model unavailable) and is never the same thing as a
// mismatch; implementations must not fold the two together.
type Verifier interface {
	Verify(ctx context.Context, capturedImage, referenceImage string) (MatchResult, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, capturedImage, referenceImage string) (MatchResult, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, capturedImage, referenceImage string) (MatchResult, error) {
	return f(ctx, capturedImage, referenceImage)
}
