package collaborators

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tipwire/internal/core/ports"
	"tipwire/pkg/utils"
	"tipwire/pkg/validation"
)

// OBSSceneController switches program scenes over the obs-websocket v5
// protocol. The connection is established lazily and rebuilt after a failed
// call; scene switches are rare enough that reconnect-per-failure is fine.
type OBSSceneController struct {
	address  string
	password string
	timeout  time.Duration
	logger   *zap.SugaredLogger

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ ports.SceneController = (*OBSSceneController)(nil)

func NewOBSSceneController(address, password string, timeout time.Duration, logger *zap.SugaredLogger) *OBSSceneController {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OBSSceneController{
		address:  address,
		password: password,
		timeout:  timeout,
		logger:   logger,
	}
}

type obsMessage struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type obsHello struct {
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type obsIdentify struct {
	RPCVersion     int    `json:"rpcVersion"`
	Authentication string `json:"authentication,omitempty"`
}

type obsRequest struct {
	RequestType string      `json:"requestType"`
	RequestID   string      `json:"requestId"`
	RequestData interface{} `json:"requestData,omitempty"`
}

type obsRequestResponse struct {
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
}

func (o *OBSSceneController) SwitchScene(ctx context.Context, name string) error {
	if err := validation.ValidateSceneName(name); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.switchLocked(ctx, name)
	if err != nil && o.conn != nil {
		// Drop the connection; the next call reconnects from scratch.
		o.conn.Close()
		o.conn = nil
	}
	return err
}

// Close tears down the connection if one is open.
func (o *OBSSceneController) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn != nil {
		err := o.conn.Close()
		o.conn = nil
		return err
	}
	return nil
}

func (o *OBSSceneController) switchLocked(ctx context.Context, name string) error {
	if o.conn == nil {
		if err := o.connectLocked(ctx); err != nil {
			return fmt.Errorf("obs connect failed: %w", err)
		}
	}

	requestID := utils.GenerateRequestID()
	payload, err := json.Marshal(obsRequest{
		RequestType: "SetCurrentProgramScene",
		RequestID:   requestID,
		RequestData: map[string]string{"sceneName": name},
	})
	if err != nil {
		return err
	}

	o.conn.SetWriteDeadline(time.Now().Add(o.timeout))
	if err := o.conn.WriteJSON(obsMessage{Op: 6, D: payload}); err != nil {
		return fmt.Errorf("obs request write failed: %w", err)
	}

	// Read until our response comes back; events on the socket are skipped.
	deadline := time.Now().Add(o.timeout)
	for time.Now().Before(deadline) {
		o.conn.SetReadDeadline(deadline)
		var msg obsMessage
		if err := o.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("obs response read failed: %w", err)
		}
		if msg.Op != 7 {
			continue
		}
		var resp obsRequestResponse
		if err := json.Unmarshal(msg.D, &resp); err != nil {
			return err
		}
		if resp.RequestID != requestID {
			continue
		}
		if !resp.RequestStatus.Result {
			return fmt.Errorf("obs rejected scene switch: %s (code %d)",
				resp.RequestStatus.Comment, resp.RequestStatus.Code)
		}
		o.logger.Infow("scene switched", "scene", name)
		return nil
	}
	return fmt.Errorf("obs response timed out")
}

func (o *OBSSceneController) connectLocked(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: o.timeout}
	conn, _, err := dialer.DialContext(ctx, o.address, nil)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(o.timeout))
	var hello obsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("hello read failed: %w", err)
	}
	var helloData obsHello
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		conn.Close()
		return err
	}

	identify := obsIdentify{RPCVersion: 1}
	if helloData.Authentication != nil {
		identify.Authentication = obsAuthString(
			o.password,
			helloData.Authentication.Salt,
			helloData.Authentication.Challenge,
		)
	}
	payload, err := json.Marshal(identify)
	if err != nil {
		conn.Close()
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(o.timeout))
	if err := conn.WriteJSON(obsMessage{Op: 1, D: payload}); err != nil {
		conn.Close()
		return fmt.Errorf("identify write failed: %w", err)
	}

	// Identified (op 2) confirms the handshake.
	conn.SetReadDeadline(time.Now().Add(o.timeout))
	var identified obsMessage
	if err := conn.ReadJSON(&identified); err != nil {
		conn.Close()
		return fmt.Errorf("identify response read failed: %w", err)
	}
	if identified.Op != 2 {
		conn.Close()
		return fmt.Errorf("unexpected handshake message op %d", identified.Op)
	}

	o.conn = conn
	o.logger.Infow("obs connected", "address", o.address)
	return nil
}

// obsAuthString derives the auth response per the obs-websocket handshake:
// base64(sha256(base64(sha256(password + salt)) + challenge)).
func obsAuthString(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}
