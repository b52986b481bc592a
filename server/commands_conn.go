package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gonzalop/ftpengine/internal/logger"
)

// connectionCommands are the login, session and data channel setup
// commands (RFC 959, RFC 2428, RFC 2389).
type connectionCommands struct {
	c *Conn
}

func newConnectionCommands(c *Conn) *connectionCommands {
	return &connectionCommands{c: c}
}

func (h *connectionCommands) register() {
	c := h.c

	// Allowed before login.
	c.RegisterCommand("USER", "USER <username>", SingleArg(h.handleUSER), false)
	c.RegisterCommand("PASS", "PASS <password>", SingleArg(h.handlePASS), false)
	c.RegisterCommand("ACCT", "ACCT <account>", NoArgs(h.handleACCT), false)
	c.RegisterCommand("QUIT", "QUIT", NoArgs(h.handleQUIT), false)
	c.RegisterCommand("NOOP", "NOOP", NoArgs(h.handleNOOP), false)
	c.RegisterCommand("SYST", "SYST", NoArgs(h.handleSYST), false)
	c.RegisterCommand("FEAT", "FEAT", NoArgs(h.handleFEAT), false)
	c.RegisterCommand("OPTS", "OPTS <option> [value]", SingleArg(h.handleOPTS), false)
	c.RegisterCommand("HELP", "HELP [command]", SingleArg(h.handleHELP), false)

	c.RegisterCommand("TYPE", "TYPE <A|I>", SingleArg(h.handleTYPE), true)
	c.RegisterCommand("MODE", "MODE <S>", SingleArg(h.handleMODE), true)
	c.RegisterCommand("STRU", "STRU <F>", SingleArg(h.handleSTRU), true)
	c.RegisterCommand("ALLO", "ALLO <bytes>", NoArgs(h.handleALLO), true)
	c.RegisterCommand("PASV", "PASV", NoArgs(h.handlePASV), true)
	c.RegisterCommand("EPSV", "EPSV [protocol]", SingleArg(h.handleEPSV), true)
	c.RegisterCommand("PORT", "PORT <h1,h2,h3,h4,p1,p2>", SingleArg(h.handlePORT), true)
	c.RegisterCommand("EPRT", "EPRT <|proto|addr|port|>", SingleArg(h.handleEPRT), true)

	c.RegisterSiteCommand("HELP", "SITE HELP [command]", SingleArg(h.handleSiteHELP))
}

func (h *connectionCommands) handleUSER(user string) error {
	if user == "" {
		return NewResponseError(501, "Missing user name.")
	}
	if !h.c.setUsername(user) {
		return NewResponseError(530, "Can't change user after login.")
	}

	if checker, ok := h.c.server.authenticator.(PasswordChecker); ok && !checker.NeedsPassword(h.c, user) {
		return h.login("")
	}

	h.c.SendResponse(331, "User name okay, need password.")
	return nil
}

func (h *connectionCommands) handlePASS(pass string) error {
	if h.c.IsAuthenticated() {
		return NewResponseError(503, "Already logged in.")
	}
	if h.c.Username() == "" {
		return NewResponseError(503, "Login with USER first.")
	}
	return h.login(pass)
}

// login runs the authenticator and adopts the file system it returns.
func (h *connectionCommands) login(pass string) error {
	c := h.c
	user := c.Username()

	fs, err := c.server.authenticator.Authenticate(c, user, pass)
	if err != nil {
		c.logger.Warn("authentication_failed",
			logger.KeyClientIP, c.remoteIP,
			logger.KeyUsername, user,
			logger.KeyReason, err.Error(),
		)
		if m := c.server.metricsCollector; m != nil {
			m.RecordAuthentication(false, user)
		}
		return NewResponseError(530, "Login incorrect.")
	}

	c.authenticate(user, fs)
	c.logger.Info("authentication_success",
		logger.KeyClientIP, c.remoteIP,
		logger.KeyUsername, user,
	)
	if m := c.server.metricsCollector; m != nil {
		m.RecordAuthentication(true, user)
	}

	c.SendResponse(230, "User logged in, proceed.")
	return nil
}

// handleACCT handles the ACCT command.
// RFC 1123 requires this command, but accounts are not used here.
func (h *connectionCommands) handleACCT() error {
	h.c.SendResponse(202, "Command not implemented, superfluous at this site.")
	return nil
}

func (h *connectionCommands) handleQUIT() error {
	h.c.SendResponse(221, "Service closing control connection.")
	if err := h.c.Close(); err != nil {
		h.c.logger.Debug("close_failed", logger.KeyError, err)
	}
	return nil
}

func (h *connectionCommands) handleNOOP() error {
	h.c.SendResponse(200, "OK.")
	return nil
}

func (h *connectionCommands) handleSYST() error {
	h.c.SendResponse(215, h.c.server.systemType)
	return nil
}

func (h *connectionCommands) handleFEAT() error {
	features := []string{
		"SIZE",
		"MDTM",
		"PASV",
		"EPSV",
		"EPRT",
		"UTF8",
	}
	h.c.SendMultilineResponse(211, "Features:", features, "End")
	return nil
}

func (h *connectionCommands) handleOPTS(arg string) error {
	if strings.HasPrefix(strings.ToUpper(arg), "UTF8 ON") {
		h.c.SendResponse(200, "Always in UTF8 mode.")
		return nil
	}
	return NewResponseError(501, "Option not understood.")
}

// handleHELP lists every command, or shows the usage of one.
func (h *connectionCommands) handleHELP(arg string) error {
	if arg != "" {
		help, ok := h.c.HelpMessage(arg)
		if !ok {
			return NewResponseError(502, fmt.Sprintf("Unknown command %s.", strings.ToUpper(arg)))
		}
		h.c.SendResponse(214, help)
		return nil
	}

	h.c.SendMultilineResponse(214, "The following commands are supported:",
		helpColumns(h.c.Commands()), "End of help")
	return nil
}

func (h *connectionCommands) handleSiteHELP(arg string) error {
	if arg != "" {
		help, ok := h.c.SiteHelpMessage(arg)
		if !ok {
			return NewResponseError(504, "Unknown site command")
		}
		h.c.SendResponse(214, help)
		return nil
	}

	h.c.SendMultilineResponse(214, "The following SITE commands are supported:",
		helpColumns(h.c.SiteCommands()), "End of help")
	return nil
}

// helpColumns lays out command labels eight per line.
func helpColumns(infos []CommandInfo) []string {
	const perLine = 8
	var lines []string
	for i := 0; i < len(infos); i += perLine {
		labels := make([]string, 0, perLine)
		for _, info := range infos[i:min(i+perLine, len(infos))] {
			labels = append(labels, info.Label)
		}
		lines = append(lines, strings.Join(labels, " "))
	}
	return lines
}

// handleTYPE handles the TYPE command. Only ASCII (A) and Image (I) are
// supported.
func (h *connectionCommands) handleTYPE(arg string) error {
	switch strings.ToUpper(arg) {
	case "A", "A N":
		h.c.SetTransferMode(ModeASCII)
		h.c.SendResponse(200, "Type set to A.")
	case "I", "L 8":
		h.c.SetTransferMode(ModeBinary)
		h.c.SendResponse(200, "Type set to I.")
	case "":
		return NewResponseError(501, "Syntax error in parameters or arguments.")
	default:
		return NewResponseError(504, "Type not supported.")
	}
	return nil
}

// handleMODE handles the MODE command. Stream is the only mode.
func (h *connectionCommands) handleMODE(arg string) error {
	switch strings.ToUpper(arg) {
	case "S":
		h.c.SendResponse(200, "Mode set to Stream.")
		return nil
	case "B":
		return NewResponseError(504, "Block mode not implemented.")
	case "C":
		return NewResponseError(504, "Compressed mode not implemented.")
	default:
		return NewResponseError(504, "Command not implemented for that parameter.")
	}
}

// handleSTRU handles the STRU command. File is the only structure.
func (h *connectionCommands) handleSTRU(arg string) error {
	switch strings.ToUpper(arg) {
	case "F":
		h.c.SendResponse(200, "Structure set to File.")
		return nil
	case "R":
		return NewResponseError(504, "Record structure not implemented.")
	case "P":
		return NewResponseError(504, "Page structure not implemented.")
	default:
		return NewResponseError(504, "Command not implemented for that parameter.")
	}
}

func (h *connectionCommands) handleALLO() error {
	h.c.SendResponse(202, "No storage allocation necessary.")
	return nil
}

func (h *connectionCommands) handlePASV() error {
	port, err := h.c.data.listenPassive()
	if err != nil {
		h.c.logger.Warn("passive_listen_failed", logger.KeyError, err)
		return NewResponseError(425, "Can't open passive connection.")
	}

	parts := []string{"0", "0", "0", "0"}
	if ip := h.c.server.passiveIP(h.c.LocalAddr()); ip != nil {
		parts = strings.Split(ip.String(), ".")
	}

	arg := fmt.Sprintf("%s,%d,%d", strings.Join(parts, ","), port/256, port%256)
	h.c.SendResponse(227, "Entering Passive Mode ("+arg+").")
	return nil
}

func (h *connectionCommands) handleEPSV(arg string) error {
	switch strings.ToUpper(arg) {
	case "", "1", "2", "ALL":
	default:
		return NewResponseError(522, "Network protocol not supported, use (1,2).")
	}

	port, err := h.c.data.listenPassive()
	if err != nil {
		h.c.logger.Warn("passive_listen_failed", logger.KeyError, err)
		return NewResponseError(425, "Can't open passive connection.")
	}

	h.c.SendResponse(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port))
	return nil
}

func (h *connectionCommands) handlePORT(arg string) error {
	// Format: h1,h2,h3,h4,p1,p2
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return NewResponseError(501, "Syntax error in parameters or arguments.")
	}

	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return NewResponseError(501, "Invalid port number.")
	}

	ip := net.ParseIP(strings.Join(parts[0:4], "."))
	if ip == nil {
		return NewResponseError(501, "Invalid IP address.")
	}

	if !h.c.validateActiveIP(ip) {
		h.c.logger.Warn("active_target_rejected",
			logger.KeyClientIP, h.c.remoteIP,
			logger.KeyAddr, ip.String(),
		)
		return NewResponseError(500, "Illegal PORT command.")
	}

	h.c.data.setActive(net.JoinHostPort(ip.String(), strconv.Itoa(p1*256+p2)))
	h.c.SendResponse(200, "PORT command successful.")
	return nil
}

func (h *connectionCommands) handleEPRT(arg string) error {
	if len(arg) < 4 {
		return NewResponseError(501, "Syntax error in parameters or arguments.")
	}

	// Expected format: <delim><proto><delim><ip><delim><port><delim>
	// Split results in: ["", "proto", "ip", "port", ""]
	parts := strings.Split(arg, arg[:1])
	if len(parts) != 5 {
		return NewResponseError(501, "Syntax error in parameters or arguments.")
	}
	proto, ipStr, portStr := parts[1], parts[2], parts[3]

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return NewResponseError(501, "Invalid network address.")
	}
	switch {
	case proto == "1" && ip.To4() == nil:
		return NewResponseError(522, "Network protocol not supported, use (2).")
	case proto != "1" && proto != "2":
		return NewResponseError(522, "Network protocol not supported, use (1,2).")
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return NewResponseError(501, "Invalid port number.")
	}

	if !h.c.validateActiveIP(ip) {
		h.c.logger.Warn("active_target_rejected",
			logger.KeyClientIP, h.c.remoteIP,
			logger.KeyAddr, ip.String(),
		)
		return NewResponseError(500, "Illegal EPRT command.")
	}

	h.c.data.setActive(net.JoinHostPort(ip.String(), portStr))
	h.c.SendResponse(200, "EPRT command successful.")
	return nil
}
