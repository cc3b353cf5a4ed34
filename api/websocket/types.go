package websocket

type ConnectParams struct {
	SessionID string `form:"session_id" binding:"required"`
	Token     string `form:"token"` // jwt token, also accepted via Authorization header
}
