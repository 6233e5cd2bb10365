// Package sipua implements the signaling provider on top of sipgo: one
// registered SIP user agent owning the UDP transport, the registration
// refresh loop, and the dialogs of the active call legs.
package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/icholy/digest"

	"github.com/sebas/webphone/internal/webphone/account"
	"github.com/sebas/webphone/internal/webphone/rtpaudio"
	"github.com/sebas/webphone/internal/webphone/signaling"
)

// Config holds the user agent configuration.
type Config struct {
	Account        *account.Account
	BindAddr       string
	Port           int
	AdvertiseAddr  string
	RTPPortMin     int
	RTPPortMax     int
	DialTimeout    time.Duration
	RegisterExpiry time.Duration
}

// UserAgent implements signaling.Provider over sipgo.
//
// All listener callbacks are delivered from a single event goroutine so
// they never run inside a Provider or Session method call.
type UserAgent struct {
	cfg Config

	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	mu              sync.Mutex
	started         bool
	closed          bool
	regState        signaling.RegistrationState
	regListeners    []func(signaling.RegistrationState)
	inviteListeners []func(signaling.Session)
	sessions        map[string]*Session // by Call-ID
	regCallID       string
	regCSeq         uint32
	refreshStarted  bool

	events chan func()
	stop   chan struct{}
}

// NewUserAgent creates a user agent for the given account.
func NewUserAgent(cfg Config) (*UserAgent, error) {
	if cfg.Account == nil {
		return nil, fmt.Errorf("no account")
	}
	if cfg.Account.Extension == "" || cfg.Account.Domain == "" {
		return nil, fmt.Errorf("account missing extension or domain")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.RegisterExpiry <= 0 {
		cfg.RegisterExpiry = 10 * time.Minute
	}
	if cfg.RTPPortMin <= 0 || cfg.RTPPortMax <= cfg.RTPPortMin {
		cfg.RTPPortMin, cfg.RTPPortMax = 10000, 20000
	}
	return &UserAgent{
		cfg:       cfg,
		regState:  signaling.RegistrationOffline,
		sessions:  make(map[string]*Session),
		regCallID: uuid.New().String(),
		events:    make(chan func(), 64),
		stop:      make(chan struct{}),
	}, nil
}

// Start implements signaling.Provider. It creates the sipgo stack,
// registers the request handlers, and starts the UDP listener and the
// event delivery goroutine.
func (u *UserAgent) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.started {
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()

	ua, err := sipgo.NewUA()
	if err != nil {
		return fmt.Errorf("failed to create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return fmt.Errorf("failed to create client: %w", err)
	}

	srv.OnRequest(sip.INVITE, u.handleINVITE)
	srv.OnRequest(sip.ACK, u.handleACK)
	srv.OnRequest(sip.BYE, u.handleBYE)
	srv.OnRequest(sip.CANCEL, u.handleCANCEL)

	u.mu.Lock()
	u.ua, u.srv, u.client = ua, srv, client
	u.started = true
	u.mu.Unlock()

	go u.eventLoop()

	listenAddr := fmt.Sprintf("%s:%d", u.cfg.BindAddr, u.cfg.Port)
	go func() {
		slog.Info("[SIPUA] Starting SIP listener", "listenAddr", listenAddr)
		if err := srv.ListenAndServe(ctx, "udp", listenAddr); err != nil {
			slog.Error("[SIPUA] SIP listener stopped", "error", err)
			u.setRegState(signaling.RegistrationOffline)
		}
	}()

	slog.Info("[SIPUA] Started",
		"extension", u.cfg.Account.Extension,
		"domain", u.cfg.Account.Domain,
	)
	return nil
}

// eventLoop delivers all listener callbacks in order.
func (u *UserAgent) eventLoop() {
	for {
		select {
		case fn := <-u.events:
			fn()
		case <-u.stop:
			return
		}
	}
}

// dispatch schedules fn on the event goroutine. Dropped after Close.
func (u *UserAgent) dispatch(fn func()) {
	select {
	case <-u.stop:
	case u.events <- fn:
	}
}

// --- Registration ---

// Register implements signaling.Provider. After the first successful
// registration a background refresher keeps it alive.
func (u *UserAgent) Register(ctx context.Context) error {
	u.mu.Lock()
	if !u.started {
		u.mu.Unlock()
		return signaling.ErrNotStarted
	}
	u.mu.Unlock()

	if err := u.registerOnce(ctx, int(u.cfg.RegisterExpiry.Seconds())); err != nil {
		u.setRegState(signaling.RegistrationFailed)
		return &signaling.Error{Op: "register", Target: u.cfg.Account.Domain, Cause: err}
	}
	u.setRegState(signaling.RegistrationRegistered)

	u.mu.Lock()
	startRefresh := !u.refreshStarted
	u.refreshStarted = true
	u.mu.Unlock()
	if startRefresh {
		go u.refreshLoop()
	}
	return nil
}

// refreshLoop re-registers at half the expiry interval.
func (u *UserAgent) refreshLoop() {
	interval := u.cfg.RegisterExpiry / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-u.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := u.registerOnce(ctx, int(u.cfg.RegisterExpiry.Seconds()))
			cancel()
			if err != nil {
				slog.Warn("[SIPUA] Registration refresh failed", "error", err)
				u.setRegState(signaling.RegistrationFailed)
			} else {
				u.setRegState(signaling.RegistrationRegistered)
			}
		}
	}
}

// Unregister implements signaling.Provider.
func (u *UserAgent) Unregister(ctx context.Context) error {
	u.mu.Lock()
	if !u.started {
		u.mu.Unlock()
		return signaling.ErrNotStarted
	}
	u.mu.Unlock()

	if err := u.registerOnce(ctx, 0); err != nil {
		return &signaling.Error{Op: "unregister", Target: u.cfg.Account.Domain, Cause: err}
	}
	u.setRegState(signaling.RegistrationConnected)
	return nil
}

// registerOnce sends one REGISTER with the given expiry, retrying once
// on a digest challenge.
func (u *UserAgent) registerOnce(ctx context.Context, expires int) error {
	req := u.buildREGISTER(expires, nil)

	tx, err := u.client.TransactionRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("send REGISTER: %w", err)
	}

	authRetried := false
	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				return fmt.Errorf("no response to REGISTER")
			}
			statusCode := int(resp.StatusCode)
			switch {
			case statusCode < 200:
				continue

			case statusCode == 401 || statusCode == 407:
				if authRetried || !u.hasCredentials() {
					return fmt.Errorf("REGISTER rejected: %d %s", statusCode, resp.Reason)
				}
				authRetried = true
				authHdr, err := u.answerChallenge(resp, sip.REGISTER.String())
				if err != nil {
					return err
				}
				req = u.buildREGISTER(expires, authHdr)
				tx, err = u.client.TransactionRequest(ctx, req)
				if err != nil {
					return fmt.Errorf("send authenticated REGISTER: %w", err)
				}

			case statusCode < 300:
				slog.Debug("[SIPUA] REGISTER accepted", "expires", expires)
				return nil

			default:
				return fmt.Errorf("REGISTER rejected: %d %s", statusCode, resp.Reason)
			}
		case <-tx.Done():
			return fmt.Errorf("REGISTER transaction terminated")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// buildREGISTER constructs a REGISTER for our account.
func (u *UserAgent) buildREGISTER(expires int, authHeader sip.Header) *sip.Request {
	acc := u.cfg.Account

	requestURI := sip.Uri{Scheme: "sip", Host: acc.Domain}
	req := sip.NewRequest(sip.REGISTER, requestURI)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	ourURI := sip.Uri{Scheme: "sip", User: acc.Extension, Host: acc.Domain}
	fromParams := sip.NewParams()
	fromParams.Add("tag", generateTag())
	req.AppendHeader(&sip.FromHeader{
		DisplayName: acc.DisplayName,
		Address:     ourURI,
		Params:      fromParams,
	})
	req.AppendHeader(&sip.ToHeader{
		Address: ourURI,
		Params:  sip.NewParams(),
	})

	callIDHdr := sip.CallIDHeader(u.regCallID)
	req.AppendHeader(&callIDHdr)

	u.mu.Lock()
	u.regCSeq++
	seq := u.regCSeq
	u.mu.Unlock()
	req.AppendHeader(&sip.CSeqHeader{
		SeqNo:      seq,
		MethodName: sip.REGISTER,
	})

	req.AppendHeader(&sip.ContactHeader{Address: u.contactURI()})
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expires)))

	if authHeader != nil {
		req.AppendHeader(authHeader)
	}

	if acc.OutboundProxy != "" {
		req.SetDestination(acc.OutboundProxy)
	}
	return req
}

// answerChallenge computes digest credentials for a 401/407 response.
func (u *UserAgent) answerChallenge(resp *sip.Response, method string) (sip.Header, error) {
	headerName, authName := "WWW-Authenticate", "Authorization"
	if resp.StatusCode == 407 {
		headerName, authName = "Proxy-Authenticate", "Proxy-Authorization"
	}
	challengeHdr := resp.GetHeader(headerName)
	if challengeHdr == nil {
		return nil, fmt.Errorf("no %s header in challenge", headerName)
	}
	challenge, err := digest.ParseChallenge(challengeHdr.Value())
	if err != nil {
		return nil, fmt.Errorf("parse challenge: %w", err)
	}
	cred, err := digest.Digest(challenge, digest.Options{
		Method:   method,
		URI:      "sip:" + u.cfg.Account.Domain,
		Username: u.cfg.Account.AuthUsername,
		Password: u.cfg.Account.AuthPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("compute digest: %w", err)
	}
	return sip.NewHeader(authName, cred.String()), nil
}

func (u *UserAgent) hasCredentials() bool {
	return u.cfg.Account.AuthUsername != "" && u.cfg.Account.AuthPassword != ""
}

// --- Session origination ---

// Outbound implements signaling.Provider.
func (u *UserAgent) Outbound(target string) (signaling.Session, error) {
	u.mu.Lock()
	started, closed := u.started, u.closed
	u.mu.Unlock()
	if !started || closed {
		return nil, signaling.ErrNotStarted
	}

	target = strings.TrimSpace(target)
	if target == "" || strings.ContainsAny(target, " \t<>@") {
		return nil, &signaling.Error{Op: "outbound", Target: target, Cause: signaling.ErrInvalidTarget}
	}

	rtp, err := rtpaudio.NewSession(u.cfg.AdvertiseAddr, u.cfg.RTPPortMin, u.cfg.RTPPortMax)
	if err != nil {
		return nil, &signaling.Error{Op: "outbound", Target: target, Cause: err}
	}

	sess := &Session{
		ua:          u,
		id:          uuid.New().String(),
		dir:         signaling.DirectionOutbound,
		remoteParty: target,
		target:      target,
		targetURI:   sip.Uri{Scheme: "sip", User: target, Host: u.cfg.Account.Domain},
		state:       signaling.StateEstablishing,
		localTag:    generateTag(),
		rtp:         rtp,
	}

	u.mu.Lock()
	u.sessions[sess.id] = sess
	u.mu.Unlock()

	return sess, nil
}

// OnInvite implements signaling.Provider.
func (u *UserAgent) OnInvite(fn func(signaling.Session)) {
	u.mu.Lock()
	u.inviteListeners = append(u.inviteListeners, fn)
	u.mu.Unlock()
}

// OnRegistrationState implements signaling.Provider.
func (u *UserAgent) OnRegistrationState(fn func(signaling.RegistrationState)) {
	u.mu.Lock()
	u.regListeners = append(u.regListeners, fn)
	u.mu.Unlock()
}

func (u *UserAgent) setRegState(state signaling.RegistrationState) {
	u.mu.Lock()
	if u.regState == state {
		u.mu.Unlock()
		return
	}
	u.regState = state
	listeners := make([]func(signaling.RegistrationState), len(u.regListeners))
	copy(listeners, u.regListeners)
	u.mu.Unlock()

	slog.Info("[SIPUA] Registration state changed", "state", state.String())
	u.dispatch(func() {
		for _, fn := range listeners {
			fn(state)
		}
	})
}

// --- Inbound request handlers ---

func (u *UserAgent) handleINVITE(req *sip.Request, tx sip.ServerTransaction) {
	callIDHdr := req.CallID()
	if callIDHdr == nil {
		resp := sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing Call-ID", nil)
		_ = tx.Respond(resp)
		return
	}
	callID := string(*callIDHdr)

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		resp := sip.NewResponseFromRequest(req, sip.StatusServiceUnavailable, "Shutting Down", nil)
		_ = tx.Respond(resp)
		return
	}
	if _, exists := u.sessions[callID]; exists {
		u.mu.Unlock()
		// Retransmission of an INVITE we are already handling
		return
	}
	u.mu.Unlock()

	rtp, err := rtpaudio.NewSession(u.cfg.AdvertiseAddr, u.cfg.RTPPortMin, u.cfg.RTPPortMax)
	if err != nil {
		slog.Error("[SIPUA] RTP allocation for inbound call failed", "call_id", callID, "error", err)
		resp := sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Media allocation failed", nil)
		_ = tx.Respond(resp)
		return
	}

	sess := &Session{
		ua:          u,
		id:          callID,
		dir:         signaling.DirectionInbound,
		remoteParty: remotePartyOf(req),
		state:       signaling.StateEstablishing,
		localTag:    generateTag(),
		rtp:         rtp,
		invite:      req,
		serverTx:    tx,
		remoteOffer: req.Body(),
	}

	u.mu.Lock()
	u.sessions[callID] = sess
	listeners := make([]func(signaling.Session), len(u.inviteListeners))
	copy(listeners, u.inviteListeners)
	u.mu.Unlock()

	ringing := sip.NewResponseFromRequest(req, sip.StatusRinging, "Ringing", nil)
	if err := tx.Respond(ringing); err != nil {
		slog.Warn("[SIPUA] 180 Ringing failed", "call_id", callID, "error", err)
	}

	slog.Info("[SIPUA] Inbound INVITE", "call_id", callID, "from", sess.remoteParty)
	u.dispatch(func() {
		for _, fn := range listeners {
			fn(sess)
		}
	})
}

func (u *UserAgent) handleBYE(req *sip.Request, tx sip.ServerTransaction) {
	sess := u.sessionFor(req)
	if sess == nil {
		resp := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		_ = tx.Respond(resp)
		return
	}
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		slog.Warn("[SIPUA] BYE response failed", "call_id", sess.id, "error", err)
	}
	sess.handleRemoteBye()
}

func (u *UserAgent) handleCANCEL(req *sip.Request, tx sip.ServerTransaction) {
	sess := u.sessionFor(req)
	if sess == nil {
		resp := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		_ = tx.Respond(resp)
		return
	}
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		slog.Warn("[SIPUA] CANCEL response failed", "call_id", sess.id, "error", err)
	}
	sess.handleRemoteCancel()
}

func (u *UserAgent) handleACK(req *sip.Request, tx sip.ServerTransaction) {
	// 2xx ACKs confirm dialogs we already consider established.
	slog.Debug("[SIPUA] ACK received")
}

func (u *UserAgent) sessionFor(req *sip.Request) *Session {
	callIDHdr := req.CallID()
	if callIDHdr == nil {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessions[string(*callIDHdr)]
}

func (u *UserAgent) removeSession(id string) {
	u.mu.Lock()
	delete(u.sessions, id)
	u.mu.Unlock()
}

// --- Shutdown ---

// Close implements signaling.Provider. Remaining sessions are disposed
// without further signaling.
func (u *UserAgent) Close(ctx context.Context) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	sessions := make([]*Session, 0, len(u.sessions))
	for _, s := range u.sessions {
		sessions = append(sessions, s)
	}
	u.sessions = make(map[string]*Session)
	ua := u.ua
	u.mu.Unlock()

	close(u.stop)
	for _, s := range sessions {
		_ = s.rtp.Close()
	}
	if ua != nil {
		return ua.Close()
	}
	return nil
}

// contactURI is the URI we advertise in Contact headers.
func (u *UserAgent) contactURI() sip.Uri {
	return sip.Uri{
		Scheme: "sip",
		User:   u.cfg.Account.Extension,
		Host:   u.cfg.AdvertiseAddr,
		Port:   u.cfg.Port,
	}
}

// remotePartyOf formats the remote identity of an inbound INVITE:
// display name with the number in parentheses, else the user part.
func remotePartyOf(req *sip.Request) string {
	from := req.From()
	if from == nil {
		return "Unknown"
	}
	user := from.Address.User
	name := strings.Trim(from.DisplayName, `"`)
	switch {
	case name != "" && user != "" && name != user:
		return fmt.Sprintf("%s (%s)", name, user)
	case name != "":
		return name
	case user != "":
		return user
	default:
		return "Unknown"
	}
}

// generateTag generates a unique tag for From/To headers.
func generateTag() string {
	return uuid.New().String()[:8]
}

var _ signaling.Provider = (*UserAgent)(nil)
