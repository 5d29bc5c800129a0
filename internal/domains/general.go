package domains

import "context"

// GeneralHandler is the fallback for everything the specialized handlers
// don't claim. Pure pass-through.
type GeneralHandler struct{}

// NewGeneralHandler returns the fallback handler.
func NewGeneralHandler() *GeneralHandler { return &GeneralHandler{} }

func (h *GeneralHandler) Name() string { return DomainGeneral }

func (h *GeneralHandler) SystemAddendum() string { return "" }

func (h *GeneralHandler) PromptContext(ctx context.Context, sessionID string) (string, error) {
	return "", nil
}

func (h *GeneralHandler) PostProcess(ctx context.Context, ex Exchange, response string) (*Result, error) {
	return NewResult(DomainGeneral), nil
}
