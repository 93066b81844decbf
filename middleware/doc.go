// Package middleware composes cross-cutting steps around model calls and
// capability invocations.
//
// A Pipeline is an ordered list of steps. Each step receives the call and
// the rest of the chain as next; the model call (or the capability
// invocation) is the innermost next. Steps are stateless: everything they
// track lives on the stack of a single call.
//
// The standard steps, outermost first:
//
//  1. Logging records the request and response shape of every call,
//     including calls aborted by an inner step.
//  2. FailureTranslation turns capability errors into a short apology that
//     names the capability's service. Raw errors never reach the model.
//  3. Grounding checks a final model response against the capability
//     outputs of the current turn and reports warnings. It never rewrites.
//
// A panicking step is recovered into a *StepError, which aborts the call.
package middleware
