package httphandler

import (
	"net/http"
	"time"

	"github.com/stellar/go-stellar-sdk/support/render/httpjson"

	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/data"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve/httperror"
)

// kioskOnlineWindow is how recently a kiosk must have been seen to count as
// online. Agents poll every few seconds, so a quiet half-minute means the
// agent is down or unreachable.
const kioskOnlineWindow = 30 * time.Second

type KiosksHandler struct {
	Models *data.Models
}

// KioskResponse augments the kiosk row with a liveness flag derived from the
// last time the kiosk's agent was heard from.
type KioskResponse struct {
	data.Kiosk
	Online bool `json:"online"`
}

// GetKiosks lists every kiosk the service has seen, most recent first.
func (h KiosksHandler) GetKiosks(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	kiosks, err := h.Models.Kiosks.GetAll(ctx, h.Models.DBConnectionPool)
	if err != nil {
		httperror.InternalError(ctx, "Cannot retrieve list of kiosks", err, nil).Render(rw)
		return
	}

	now := time.Now()
	resp := make([]KioskResponse, 0, len(kiosks))
	for _, kiosk := range kiosks {
		resp = append(resp, KioskResponse{
			Kiosk:  kiosk,
			Online: now.Sub(kiosk.LastSeenAt) <= kioskOnlineWindow,
		})
	}

	httpjson.Render(rw, resp, httpjson.JSON)
}
