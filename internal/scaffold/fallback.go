package scaffold

// retryFeedback is appended to the prompt on a retry attempt after a
// failed generation.
const retryFeedback = `

IMPORTANT: Your previous attempt failed with this error: %v

Try again. Output ONLY fenced code blocks with file= annotations, one per
phase under .wreckit/templates/, exactly as instructed above.`
