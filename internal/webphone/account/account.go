// Package account retrieves the webphone account configuration from the
// backend. The configuration is fetched once at initialization and holds
// the SIP credentials plus the ICE server list for media negotiation.
package account

// Account is the SIP account payload returned by the backend.
type Account struct {
	ID            int    `json:"id"`
	Label         string `json:"label"`
	Extension     string `json:"extension"`
	AuthUsername  string `json:"auth_username"`
	AuthPassword  string `json:"auth_password"`
	Domain        string `json:"domain"`
	WSURI         string `json:"ws_uri"`
	OutboundProxy string `json:"outbound_proxy"`
	DisplayName   string `json:"user_display_name"`
	STUNServer    string `json:"stun_server"`
	TURNServer    string `json:"turn_server"`
	TURNUsername  string `json:"turn_username"`
	TURNPassword  string `json:"turn_password"`
}

// Config is the backend's webphone configuration response.
type Config struct {
	HasAccount bool     `json:"has_account"`
	Account    *Account `json:"account"`
}

// ICEServer describes one STUN or TURN server entry.
type ICEServer struct {
	URL        string
	Username   string
	Credential string
}

// defaultSTUN is used when the account configures no ICE servers at all.
const defaultSTUN = "stun:stun.l.google.com:19302"

// ICEServers builds the ICE server list from the account's STUN/TURN
// fields, falling back to a public STUN server when none are set.
func (a *Account) ICEServers() []ICEServer {
	var servers []ICEServer
	if a.STUNServer != "" {
		servers = append(servers, ICEServer{URL: a.STUNServer})
	}
	if a.TURNServer != "" {
		servers = append(servers, ICEServer{
			URL:        a.TURNServer,
			Username:   a.TURNUsername,
			Credential: a.TURNPassword,
		})
	}
	if len(servers) == 0 {
		servers = append(servers, ICEServer{URL: defaultSTUN})
	}
	return servers
}

// DisplayLabel returns the name presented to remote parties: the user
// display name, else the extension, else the account label.
func (a *Account) DisplayLabel() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.Extension != "" {
		return a.Extension
	}
	return a.Label
}
