package main

import (
	"io"
	"unicode/utf8"

	"github.com/pterm/pterm"

	"github.com/wilsonzlin/aero/proxy/peersock/internal/discovery"
	"github.com/wilsonzlin/aero/proxy/peersock/internal/negotiation"
)

// console is the user-facing output. Diagnostics go through slog instead.
type console struct {
	out     io.Writer
	info    *pterm.PrefixPrinter
	success *pterm.PrefixPrinter
	warning *pterm.PrefixPrinter
	failure *pterm.PrefixPrinter
	message *pterm.PrefixPrinter
}

func newConsole(w io.Writer) *console {
	return &console{
		out:     w,
		info:    pterm.Info.WithWriter(w),
		success: pterm.Success.WithWriter(w),
		warning: pterm.Warning.WithWriter(w),
		failure: pterm.Error.WithWriter(w),
		message: pterm.Description.WithPrefix(pterm.Prefix{Text: "MSG", Style: pterm.Description.Prefix.Style}).WithWriter(w),
	}
}

func (c *console) received(msg negotiation.Message) {
	from := msg.Channel.RemoteID() + "/" + msg.Channel.Name()
	if msg.IsString && utf8.Valid(msg.Data) {
		c.message.Printfln("%s: %s", from, msg.Data)
		return
	}
	c.message.Printfln("%s: <%d bytes>", from, len(msg.Data))
}

func (c *console) relays(relays []discovery.Relay) error {
	data := pterm.TableData{{"Instance", "Host", "URL"}}
	for _, r := range relays {
		data = append(data, []string{r.Instance, r.Host, r.URL()})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(c.out).WithData(data).Render()
}
