package checker

import (
	"context"
	"strings"
)

// ignoredSchemes are valid but never checked.
var ignoredSchemes = map[string]struct{}{
	"irc": {}, "ircs": {}, "ldap": {}, "ldaps": {}, "tel": {}, "data": {},
	"sms": {}, "feed": {}, "gopher": {}, "rtsp": {}, "mms": {}, "sip": {},
	"skype": {}, "xmpp": {}, "webcal": {}, "magnet": {}, "steam": {},
	"chrome": {}, "about": {}, "geo": {}, "fax": {}, "callto": {},
}

type javascriptProber struct{}

func (javascriptProber) Probe(context.Context, ProbeRequest) Outcome {
	return ok("syntax OK").withWarning(TagJavaScript, "javascript url ignored")
}

type unknownProber struct{}

func (unknownProber) Probe(_ context.Context, req ProbeRequest) Outcome {
	name := strings.ToLower(req.Target.SchemeName)
	if _, ignored := ignoredSchemes[name]; ignored {
		return ok("syntax OK").withWarning(TagIgnoredScheme, "url ignored")
	}
	return failure(KindSyntax, "unsupported url scheme %q", name)
}
