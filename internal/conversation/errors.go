package conversation

import "fmt"

// ProtocolError reports an inbound event that cannot be attributed to a
// session or is otherwise malformed. Cause is the decoding error, if any.
type ProtocolError struct {
	Reason string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed inbound event: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("malformed inbound event: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// Prompts sent back to the user.
const (
	PromptSendImage   = "We didn't receive an image. Please try sending your image again."
	PromptSendProduct = "We have received your image. Please send the image of the product you want to try on."
	ReplyFailure      = "Sorry, something went wrong with the try-on process."
	ResultCaption     = "Well, well, well, you are looking pretty nice !!!"
)
