package interview

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("interview: invalid input")
	ErrSessionNotFound   = errors.New("interview: session not found")
	ErrSessionNotActive  = errors.New("interview: session is not active")
	ErrQuestionNotFound  = errors.New("interview: question not found in session")
	ErrAlreadyAnswered   = errors.New("interview: question already answered")
	ErrNoQuestions       = errors.New("interview: question plan is empty")
	ErrConversationGone  = errors.New("interview: conversation not found or expired")
	ErrConversationEnded = errors.New("interview: conversation already complete")
)

// IncompleteError is returned by Finish when some questions have no answer yet.
type IncompleteError struct {
	Answered int
	Total    int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("interview: %d of %d questions answered", e.Answered, e.Total)
}
