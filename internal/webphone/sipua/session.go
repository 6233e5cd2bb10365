package sipua

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/sebas/webphone/internal/webphone/media"
	"github.com/sebas/webphone/internal/webphone/rtpaudio"
	"github.com/sebas/webphone/internal/webphone/signaling"
)

// Session is one SIP dialog: the INVITE that created it, the tags and
// CSeq that identify it, and the RTP session carrying its audio.
//
// State transitions are delivered through the user agent's event
// goroutine, never from within a method call.
type Session struct {
	ua          *UserAgent
	id          string // Call-ID
	dir         signaling.Direction
	remoteParty string
	target      string
	targetURI   sip.Uri

	mu        sync.Mutex
	state     signaling.SessionState
	listeners []func(signaling.SessionState)

	rtp *rtpaudio.Session

	localTag  string
	remoteTag string
	cseq      uint32

	invite        *sip.Request
	serverTx      sip.ServerTransaction // inbound, pending accept/reject
	remoteOffer   []byte                // inbound, offer SDP from the INVITE
	remoteContact sip.Uri
	hasContact    bool
	onHold        bool
}

// ID implements signaling.Session.
func (s *Session) ID() string { return s.id }

// Direction implements signaling.Session.
func (s *Session) Direction() signaling.Direction { return s.dir }

// RemoteParty implements signaling.Session.
func (s *Session) RemoteParty() string { return s.remoteParty }

// State implements signaling.Session.
func (s *Session) State() signaling.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange implements signaling.Session.
func (s *Session) OnStateChange(fn func(signaling.SessionState)) func() {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	i := len(s.listeners) - 1
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.listeners[i] = nil
		s.mu.Unlock()
	}
}

// Media implements signaling.Session.
func (s *Session) Media() media.Handler { return s.rtp }

// setState records the new state and schedules listener delivery on the
// user agent's event goroutine. Terminal transitions also release the
// RTP socket and drop the session from the dialog table.
func (s *Session) setState(state signaling.SessionState) {
	s.mu.Lock()
	if s.state == state || s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	listeners := make([]func(signaling.SessionState), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	if state.IsTerminal() {
		_ = s.rtp.Close()
		s.ua.removeSession(s.id)
	}

	slog.Debug("[Session] State changed", "call_id", s.id, "state", state.String())
	s.ua.dispatch(func() {
		for _, fn := range listeners {
			if fn != nil {
				fn(state)
			}
		}
	})
}

// nextCSeq returns the next in-dialog sequence number.
func (s *Session) nextCSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cseq++
	return s.cseq
}

// --- Outbound establishment ---

// Invite implements signaling.Session. It sends the initial INVITE and
// returns; the response flow runs on its own goroutine and reports
// through OnStateChange.
func (s *Session) Invite(ctx context.Context) error {
	if s.dir != signaling.DirectionOutbound {
		return &signaling.Error{Op: "invite", Target: s.target, Cause: signaling.ErrInvalidTarget}
	}

	offer, err := BuildSDP(s.rtp.LocalAddr(), s.rtp.LocalPort(), "0", false)
	if err != nil {
		return &signaling.Error{Op: "invite", Target: s.target, Cause: err}
	}

	invite := s.buildINVITE(offer, nil)
	tx, err := s.ua.client.TransactionRequest(ctx, invite)
	if err != nil {
		s.setState(signaling.StateTerminated)
		return &signaling.Error{Op: "invite", Target: s.target, SIPCode: 503, SIPReason: "Transaction failed", Cause: err}
	}

	s.mu.Lock()
	s.invite = invite
	s.mu.Unlock()

	slog.Info("[Session] INVITE sent", "call_id", s.id, "target", invite.Recipient.String())
	go s.runInvite(invite, tx)
	return nil
}

// buildINVITE constructs an initial INVITE with our identity and the
// SDP offer. authHeader, when non-nil, carries digest credentials for
// the challenge retry.
func (s *Session) buildINVITE(offer []byte, authHeader sip.Header) *sip.Request {
	acc := s.ua.cfg.Account
	invite := sip.NewRequest(sip.INVITE, s.targetURI)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromURI := sip.Uri{
		Scheme: "sip",
		User:   acc.Extension,
		Host:   acc.Domain,
	}
	fromParams := sip.NewParams()
	fromParams.Add("tag", s.localTag)
	invite.AppendHeader(&sip.FromHeader{
		DisplayName: acc.DisplayName,
		Address:     fromURI,
		Params:      fromParams,
	})

	invite.AppendHeader(&sip.ToHeader{
		Address: s.targetURI,
		Params:  sip.NewParams(),
	})

	callIDHdr := sip.CallIDHeader(s.id)
	invite.AppendHeader(&callIDHdr)

	invite.AppendHeader(&sip.CSeqHeader{
		SeqNo:      s.nextCSeq(),
		MethodName: sip.INVITE,
	})

	invite.AppendHeader(&sip.ContactHeader{
		Address: s.ua.contactURI(),
	})

	if authHeader != nil {
		invite.AppendHeader(authHeader)
	}

	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(offer)

	return invite
}

// runInvite drives the INVITE response flow: provisional responses keep
// the session establishing, a digest challenge triggers one retry, 2xx
// answers the call, anything else terminates it.
func (s *Session) runInvite(invite *sip.Request, tx sip.ClientTransaction) {
	dialCtx, cancel := context.WithTimeout(context.Background(), s.ua.cfg.DialTimeout)
	defer cancel()

	authRetried := false
	for {
		select {
		case <-dialCtx.Done():
			_ = s.sendCANCEL(invite)
			slog.Info("[Session] INVITE timed out", "call_id", s.id)
			s.setState(signaling.StateTerminated)
			return

		case resp := <-tx.Responses():
			if resp == nil {
				s.setState(signaling.StateTerminated)
				return
			}
			statusCode := int(resp.StatusCode)

			switch {
			case statusCode < 200:
				// 100 Trying / 180 Ringing / 183 Session Progress
				slog.Debug("[Session] Provisional response", "call_id", s.id, "status", statusCode)

			case statusCode == 401 || statusCode == 407:
				if authRetried || !s.ua.hasCredentials() {
					slog.Info("[Session] INVITE rejected by challenge", "call_id", s.id, "status", statusCode)
					s.setState(signaling.StateTerminated)
					return
				}
				authRetried = true
				retry, retryTx, err := s.retryWithAuth(dialCtx, resp)
				if err != nil {
					slog.Warn("[Session] INVITE auth retry failed", "call_id", s.id, "error", err)
					s.setState(signaling.StateTerminated)
					return
				}
				invite, tx = retry, retryTx

			case statusCode >= 200 && statusCode < 300:
				s.handle2xx(resp, invite)
				return

			default:
				slog.Info("[Session] Call rejected",
					"call_id", s.id,
					"status", statusCode,
					"reason", resp.Reason,
				)
				s.setState(signaling.StateTerminated)
				return
			}

		case <-tx.Done():
			s.setState(signaling.StateTerminated)
			return
		}
	}
}

// retryWithAuth rebuilds the INVITE with digest credentials computed
// from the challenge response.
func (s *Session) retryWithAuth(ctx context.Context, resp *sip.Response) (*sip.Request, sip.ClientTransaction, error) {
	headerName, authName := "WWW-Authenticate", "Authorization"
	if resp.StatusCode == 407 {
		headerName, authName = "Proxy-Authenticate", "Proxy-Authorization"
	}
	challengeHdr := resp.GetHeader(headerName)
	if challengeHdr == nil {
		return nil, nil, fmt.Errorf("no %s header in challenge", headerName)
	}
	challenge, err := digest.ParseChallenge(challengeHdr.Value())
	if err != nil {
		return nil, nil, fmt.Errorf("parse challenge: %w", err)
	}

	cred, err := digest.Digest(challenge, digest.Options{
		Method:   sip.INVITE.String(),
		URI:      s.targetURI.String(),
		Username: s.ua.cfg.Account.AuthUsername,
		Password: s.ua.cfg.Account.AuthPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("compute digest: %w", err)
	}

	offer := s.invite.Body()
	retry := s.buildINVITE(offer, sip.NewHeader(authName, cred.String()))
	tx, err := s.ua.client.TransactionRequest(ctx, retry)
	if err != nil {
		return nil, nil, fmt.Errorf("send authenticated INVITE: %w", err)
	}

	s.mu.Lock()
	s.invite = retry
	s.mu.Unlock()
	return retry, tx, nil
}

// handle2xx processes an answer: stores the dialog state, ACKs, points
// RTP at the remote endpoint, and marks the session established.
func (s *Session) handle2xx(resp *sip.Response, invite *sip.Request) {
	s.mu.Lock()
	if to := resp.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			s.remoteTag = tag
		}
	}
	if contact := resp.Contact(); contact != nil {
		s.remoteContact = contact.Address
		s.hasContact = true
	}
	s.mu.Unlock()

	if err := s.sendACK(resp, invite); err != nil {
		// ACK failure doesn't negate the 200 OK
		slog.Warn("[Session] ACK failed", "call_id", s.id, "error", err)
	}

	if resp.Body() != nil {
		if addr, port, err := ParseRemoteMedia(resp.Body()); err != nil {
			slog.Warn("[Session] No usable SDP answer", "call_id", s.id, "error", err)
		} else if err := s.rtp.SetRemote(addr, port); err != nil {
			slog.Warn("[Session] RTP remote setup failed", "call_id", s.id, "error", err)
		}
	}

	slog.Info("[Session] Call answered", "call_id", s.id, "remote_tag", s.remoteTag)
	s.setState(signaling.StateEstablished)
}

// sendACK sends an ACK for a 2xx response.
// Per RFC 3261 Section 13.2.2.4, ACK for 2xx is a new request (not part
// of the INVITE transaction) and its Request-URI is the remote Contact.
func (s *Session) sendACK(resp *sip.Response, invite *sip.Request) error {
	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, requestURI)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)

	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params,
		})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{
			SeqNo:      cseq.SeqNo,
			MethodName: sip.ACK,
		})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	destAddr := resp.Source()
	if destAddr == "" {
		port := requestURI.Port
		if port == 0 {
			port = 5060
		}
		destAddr = fmt.Sprintf("%s:%d", requestURI.Host, port)
	}
	ack.SetDestination(destAddr)

	if err := s.ua.client.WriteRequest(ack); err != nil {
		return fmt.Errorf("write ACK: %w", err)
	}
	return nil
}

// sendCANCEL cancels an in-progress INVITE per RFC 3261 Section 9.1.
func (s *Session) sendCANCEL(invite *sip.Request) error {
	cancelReq := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("Via", invite, cancelReq)
	sip.CopyHeaders("From", invite, cancelReq)
	sip.CopyHeaders("To", invite, cancelReq)
	sip.CopyHeaders("Call-ID", invite, cancelReq)
	if cseq := invite.CSeq(); cseq != nil {
		cancelReq.AppendHeader(&sip.CSeqHeader{
			SeqNo:      cseq.SeqNo,
			MethodName: sip.CANCEL,
		})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancelReq.AppendHeader(&maxFwd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.ua.client.TransactionRequest(ctx, cancelReq)
	if err != nil {
		return fmt.Errorf("send CANCEL: %w", err)
	}
	select {
	case <-tx.Responses():
	case <-tx.Done():
	case <-ctx.Done():
	}
	slog.Info("[Session] CANCEL sent", "call_id", s.id)
	return nil
}

// --- Inbound handling ---

// Accept implements signaling.Session. It answers the pending inbound
// INVITE with a 200 OK carrying our SDP answer.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	tx, req := s.serverTx, s.invite
	offer := s.remoteOffer
	s.mu.Unlock()

	if s.dir != signaling.DirectionInbound || tx == nil {
		return &signaling.Error{Op: "accept", Cause: signaling.ErrSessionTerminated}
	}

	answer, err := BuildSDP(s.rtp.LocalAddr(), s.rtp.LocalPort(), "0", false)
	if err != nil {
		return &signaling.Error{Op: "accept", Cause: err}
	}

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", answer)
	resp.AppendHeader(&sip.ContactHeader{Address: s.ua.contactURI()})
	contentType := sip.ContentTypeHeader("application/sdp")
	resp.AppendHeader(&contentType)
	if err := tx.Respond(resp); err != nil {
		s.setState(signaling.StateTerminated)
		return &signaling.Error{Op: "accept", SIPCode: 500, SIPReason: "Respond failed", Cause: err}
	}

	if addr, port, err := ParseRemoteMedia(offer); err != nil {
		slog.Warn("[Session] No usable SDP offer", "call_id", s.id, "error", err)
	} else if err := s.rtp.SetRemote(addr, port); err != nil {
		slog.Warn("[Session] RTP remote setup failed", "call_id", s.id, "error", err)
	}

	s.mu.Lock()
	s.serverTx = nil
	s.mu.Unlock()

	slog.Info("[Session] Inbound call accepted", "call_id", s.id)
	s.setState(signaling.StateEstablished)
	return nil
}

// Reject implements signaling.Session. It declines the pending inbound
// INVITE with 486 Busy Here.
func (s *Session) Reject(ctx context.Context) error {
	s.mu.Lock()
	tx, req := s.serverTx, s.invite
	s.serverTx = nil
	s.mu.Unlock()

	if s.dir != signaling.DirectionInbound || tx == nil {
		return &signaling.Error{Op: "reject", Cause: signaling.ErrSessionTerminated}
	}

	resp := sip.NewResponseFromRequest(req, sip.StatusBusyHere, "Busy Here", nil)
	err := tx.Respond(resp)
	s.setState(signaling.StateTerminated)
	if err != nil {
		return &signaling.Error{Op: "reject", SIPCode: 500, SIPReason: "Respond failed", Cause: err}
	}
	slog.Info("[Session] Inbound call rejected", "call_id", s.id)
	return nil
}

// handleRemoteBye runs when the remote party ends an established dialog.
func (s *Session) handleRemoteBye() {
	slog.Info("[Session] BYE received", "call_id", s.id)
	s.setState(signaling.StateTerminated)
}

// handleRemoteCancel runs when the remote party cancels a pending
// inbound INVITE. Responds 487 to the original INVITE.
func (s *Session) handleRemoteCancel() {
	s.mu.Lock()
	tx, req := s.serverTx, s.invite
	s.serverTx = nil
	s.mu.Unlock()

	if tx != nil && req != nil {
		resp := sip.NewResponseFromRequest(req, 487, "Request Terminated", nil)
		if err := tx.Respond(resp); err != nil {
			slog.Warn("[Session] 487 response failed", "call_id", s.id, "error", err)
		}
	}
	slog.Info("[Session] Inbound call cancelled by remote", "call_id", s.id)
	s.setState(signaling.StateTerminated)
}

// --- Termination ---

// Terminate implements signaling.Session.
func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	invite := s.invite
	pendingTx := s.serverTx
	s.mu.Unlock()

	switch {
	case state.IsTerminal():
		return nil

	case state == signaling.StateEstablished:
		if err := s.sendBYE(ctx); err != nil {
			slog.Warn("[Session] BYE failed", "call_id", s.id, "error", err)
		}
		s.setState(signaling.StateTerminated)
		return nil

	case s.dir == signaling.DirectionOutbound && invite != nil:
		if err := s.sendCANCEL(invite); err != nil {
			slog.Warn("[Session] CANCEL failed", "call_id", s.id, "error", err)
		}
		s.setState(signaling.StateTerminated)
		return nil

	case s.dir == signaling.DirectionInbound && pendingTx != nil:
		return s.Reject(ctx)

	default:
		s.setState(signaling.StateTerminated)
		return nil
	}
}

// sendBYE ends an established dialog per RFC 3261 Section 15.1.1.
func (s *Session) sendBYE(ctx context.Context) error {
	bye, err := s.buildInDialog(sip.BYE)
	if err != nil {
		return err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	tx, err := s.ua.client.TransactionRequest(ctx, bye)
	if err != nil {
		return fmt.Errorf("send BYE: %w", err)
	}
	select {
	case resp := <-tx.Responses():
		if resp != nil {
			slog.Debug("[Session] BYE response", "call_id", s.id, "status", resp.StatusCode)
		}
	case <-tx.Done():
	case <-ctx.Done():
		slog.Warn("[Session] BYE timeout", "call_id", s.id)
	}
	return nil
}

// --- Transfers and renegotiation ---

// Refer implements signaling.Session (blind transfer). On acceptance the
// dialog is torn down; the terminated state is reported asynchronously.
func (s *Session) Refer(ctx context.Context, target string) error {
	if s.State() != signaling.StateEstablished {
		return &signaling.Error{Op: "refer", Target: target, Cause: signaling.ErrNotEstablished}
	}

	referTo := sip.Uri{
		Scheme: "sip",
		User:   target,
		Host:   s.ua.cfg.Account.Domain,
	}
	if err := s.sendREFER(ctx, "<"+referTo.String()+">"); err != nil {
		return &signaling.Error{Op: "refer", Target: target, Cause: err}
	}

	// The transferor's part is done; end our dialog.
	go func() {
		if err := s.sendBYE(context.Background()); err != nil {
			slog.Warn("[Session] BYE after REFER failed", "call_id", s.id, "error", err)
		}
		s.setState(signaling.StateTerminated)
	}()
	return nil
}

// ReferReplace implements signaling.Session (attended transfer). The
// Refer-To target carries a Replaces parameter identifying the consult
// dialog per RFC 3891.
func (s *Session) ReferReplace(ctx context.Context, other signaling.Session) error {
	if s.State() != signaling.StateEstablished {
		return &signaling.Error{Op: "refer_replace", Cause: signaling.ErrNotEstablished}
	}
	peer, ok := other.(*Session)
	if !ok || peer.State() != signaling.StateEstablished {
		return &signaling.Error{Op: "refer_replace", Cause: signaling.ErrNotEstablished}
	}

	peer.mu.Lock()
	peerURI := peer.targetURI
	replaces := fmt.Sprintf("%s;to-tag=%s;from-tag=%s", peer.id, peer.remoteTag, peer.localTag)
	peer.mu.Unlock()

	referTo := fmt.Sprintf("<%s?Replaces=%s>", peerURI.String(), url.QueryEscape(replaces))
	if err := s.sendREFER(ctx, referTo); err != nil {
		return &signaling.Error{Op: "refer_replace", Cause: err}
	}
	return nil
}

// sendREFER sends an in-dialog REFER and waits for its acceptance.
func (s *Session) sendREFER(ctx context.Context, referTo string) error {
	refer, err := s.buildInDialog(sip.REFER)
	if err != nil {
		return err
	}
	refer.AppendHeader(sip.NewHeader("Refer-To", referTo))
	refer.AppendHeader(sip.NewHeader("Referred-By",
		fmt.Sprintf("<sip:%s@%s>", s.ua.cfg.Account.Extension, s.ua.cfg.Account.Domain)))

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	tx, err := s.ua.client.TransactionRequest(ctx, refer)
	if err != nil {
		return fmt.Errorf("send REFER: %w", err)
	}

	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				return fmt.Errorf("no response to REFER")
			}
			statusCode := int(resp.StatusCode)
			if statusCode < 200 {
				continue
			}
			if statusCode >= 300 {
				return fmt.Errorf("REFER rejected: %d %s", statusCode, resp.Reason)
			}
			slog.Info("[Session] REFER accepted", "call_id", s.id, "status", statusCode)
			return nil
		case <-tx.Done():
			return fmt.Errorf("REFER transaction terminated")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reinvite implements signaling.Session. It renegotiates the media
// direction for hold (sendonly) or resume (sendrecv).
func (s *Session) Reinvite(ctx context.Context, hold bool) error {
	if s.State() != signaling.StateEstablished {
		return &signaling.Error{Op: "reinvite", Cause: signaling.ErrNotEstablished}
	}

	body, err := BuildSDP(s.rtp.LocalAddr(), s.rtp.LocalPort(), "0", hold)
	if err != nil {
		return &signaling.Error{Op: "reinvite", Cause: err}
	}

	reinvite, err := s.buildInDialog(sip.INVITE)
	if err != nil {
		return &signaling.Error{Op: "reinvite", Cause: err}
	}
	contentType := sip.ContentTypeHeader("application/sdp")
	reinvite.AppendHeader(&contentType)
	reinvite.AppendHeader(&sip.ContactHeader{Address: s.ua.contactURI()})
	reinvite.SetBody(body)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	tx, err := s.ua.client.TransactionRequest(ctx, reinvite)
	if err != nil {
		return &signaling.Error{Op: "reinvite", SIPCode: 503, SIPReason: "Transaction failed", Cause: err}
	}

	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				return &signaling.Error{Op: "reinvite", SIPCode: 408, SIPReason: "No Response", Cause: fmt.Errorf("no response")}
			}
			statusCode := int(resp.StatusCode)
			switch {
			case statusCode < 200:
				continue
			case statusCode < 300:
				if err := s.sendACK(resp, reinvite); err != nil {
					slog.Warn("[Session] Re-INVITE ACK failed", "call_id", s.id, "error", err)
				}
				s.mu.Lock()
				s.onHold = hold
				s.mu.Unlock()
				slog.Info("[Session] Renegotiated", "call_id", s.id, "hold", hold)
				return nil
			case statusCode == 488 || statusCode == 606:
				return &signaling.Error{Op: "reinvite", SIPCode: statusCode, SIPReason: resp.Reason, Cause: signaling.ErrRenegotiationUnsupported}
			default:
				return &signaling.Error{Op: "reinvite", SIPCode: statusCode, SIPReason: resp.Reason, Cause: fmt.Errorf("re-INVITE rejected")}
			}
		case <-tx.Done():
			return &signaling.Error{Op: "reinvite", SIPCode: 408, SIPReason: "Transaction terminated", Cause: fmt.Errorf("transaction terminated")}
		case <-ctx.Done():
			return &signaling.Error{Op: "reinvite", SIPCode: 408, SIPReason: "Timeout", Cause: ctx.Err()}
		}
	}
}

// buildInDialog constructs an in-dialog request (BYE, REFER, re-INVITE)
// using the dialog state captured at establishment.
func (s *Session) buildInDialog(method sip.RequestMethod) (*sip.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.ua.cfg.Account

	var requestURI sip.Uri
	var localURI, remoteURI sip.Uri
	var localTag, remoteTag string

	ourURI := sip.Uri{Scheme: "sip", User: acc.Extension, Host: acc.Domain}

	if s.dir == signaling.DirectionOutbound {
		localURI, remoteURI = ourURI, s.targetURI
		localTag, remoteTag = s.localTag, s.remoteTag
		requestURI = s.targetURI
	} else {
		// For inbound dialogs our tag was set on the To header of the
		// 200 OK; the remote identity comes from the INVITE's From.
		if s.invite == nil {
			return nil, fmt.Errorf("no dialog state")
		}
		from := s.invite.From()
		if from == nil {
			return nil, fmt.Errorf("no From in dialog")
		}
		localURI, remoteURI = ourURI, from.Address
		localTag, remoteTag = s.localTag, ""
		if tag, ok := from.Params.Get("tag"); ok {
			remoteTag = tag
		}
		requestURI = from.Address
	}
	if s.hasContact {
		requestURI = s.remoteContact
	}

	req := sip.NewRequest(method, requestURI)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	req.AppendHeader(&sip.FromHeader{
		Address: localURI,
		Params:  fromParams,
	})

	toParams := sip.NewParams()
	if remoteTag != "" {
		toParams.Add("tag", remoteTag)
	}
	req.AppendHeader(&sip.ToHeader{
		Address: remoteURI,
		Params:  toParams,
	})

	callIDHdr := sip.CallIDHeader(s.id)
	req.AppendHeader(&callIDHdr)

	s.cseq++
	req.AppendHeader(&sip.CSeqHeader{
		SeqNo:      s.cseq,
		MethodName: method,
	})

	port := requestURI.Port
	if port == 0 {
		port = 5060
	}
	req.SetDestination(fmt.Sprintf("%s:%d", requestURI.Host, port))

	return req, nil
}

var _ signaling.Session = (*Session)(nil)
