package handler

import (
	"memorial-server/memorial-service/internal/wizard"
)

// reorderRequest - новый порядок моментов после drag-and-drop.
type reorderRequest struct {
	Order []string `json:"order" binding:"required"`
}

// editMomentRequest: nil fields are left untouched.
type editMomentRequest struct {
	Caption   *string `json:"caption"`
	DateTaken *string `json:"dateTaken"`
}

func (r editMomentRequest) toEdit() wizard.MomentEdit {
	return wizard.MomentEdit{Caption: r.Caption, DateTaken: r.DateTaken}
}

type previewResponse struct {
	HTML string `json:"html"`
}
