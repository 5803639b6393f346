package signalr

// TransportType is the name of a transport in the negotiate response.
type TransportType string

// TransportWebSockets is the only transport the client can use
const TransportWebSockets TransportType = "WebSockets"

// TransferFormatType is the name of a transfer format in the negotiate response.
type TransferFormatType string

// TransferFormatText is the only transfer format the client can use
const TransferFormatText TransferFormatType = "Text"

type availableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

type negotiateResponse struct {
	ConnectionToken     string               `json:"connectionToken,omitempty"`
	ConnectionID        string               `json:"connectionId"`
	NegotiateVersion    int                  `json:"negotiateVersion,omitempty"`
	AvailableTransports []availableTransport `json:"availableTransports"`
	Error               string               `json:"error,omitempty"`
}

// hasTransport reports if the server offers transportType with transferFormat
func (nr *negotiateResponse) hasTransport(transportType TransportType, transferFormat TransferFormatType) bool {
	for _, transport := range nr.AvailableTransports {
		if transport.Transport != string(transportType) {
			continue
		}
		for _, format := range transport.TransferFormats {
			if format == string(transferFormat) {
				return true
			}
		}
	}
	return false
}

// transportID is the id the client has to send when it connects the transport
func (nr *negotiateResponse) transportID() string {
	if nr.NegotiateVersion > 0 && nr.ConnectionToken != "" {
		return nr.ConnectionToken
	}
	return nr.ConnectionID
}
