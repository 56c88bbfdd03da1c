// Package router is the single route table and the identity gate in front of
// the protected pages.
package router

import (
	"net/url"
	"strings"

	"schedulr/internal/model"
)

type Page string

const (
	SignIn      Page = "signin"
	SignUp      Page = "signup"
	NotFound    Page = "not-found"
	Dashboard   Page = "dashboard"
	Schedule    Page = "schedule"
	People      Page = "people"
	Analytics   Page = "analytics"
	Settings    Page = "settings"
	Chat        Page = "ai-chat"
	Appointment Page = "appointment"
)

type Route struct {
	Pattern   string `json:"pattern"`
	Page      Page   `json:"page"`
	Protected bool   `json:"protected"`
}

// Routes is the canonical table. Anything not listed goes to /not-found.
var Routes = []Route{
	{Pattern: "/signin", Page: SignIn},
	{Pattern: "/signup", Page: SignUp},
	{Pattern: "/not-found", Page: NotFound},
	{Pattern: "/", Page: Dashboard, Protected: true},
	{Pattern: "/:uid/dashboard", Page: Dashboard, Protected: true},
	{Pattern: "/:uid/schedule", Page: Schedule, Protected: true},
	{Pattern: "/:uid/people", Page: People, Protected: true},
	{Pattern: "/:uid/analytics", Page: Analytics, Protected: true},
	{Pattern: "/:uid/settings", Page: Settings, Protected: true},
	{Pattern: "/:uid/ai-chat", Page: Chat, Protected: true},
	{Pattern: "/:uid/appointment", Page: Appointment, Protected: true},
}

const (
	SignInPath   = "/signin"
	NotFoundPath = "/not-found"
)

// Path builds the location of a protected page for uid.
func Path(uid string, p Page) string {
	return "/" + url.PathEscape(uid) + "/" + string(p)
}

// Kind tells the caller what to do with a path.
type Kind int

const (
	// Hold renders nothing: the identity is not known yet.
	Hold Kind = iota
	Render
	Redirect
)

func (k Kind) String() string {
	switch k {
	case Hold:
		return "hold"
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

type Outcome struct {
	Kind     Kind   `json:"kind"`
	Page     Page   `json:"page,omitempty"`
	UID      string `json:"uid,omitempty"`
	Location string `json:"location,omitempty"`
}

type Router struct {
	public    map[string]Page
	protected map[string]Page
}

func New() *Router {
	r := &Router{public: map[string]Page{}, protected: map[string]Page{}}
	for _, rt := range Routes {
		switch {
		case !rt.Protected:
			r.public[rt.Pattern] = rt.Page
		case strings.HasPrefix(rt.Pattern, "/:uid/"):
			r.protected[string(rt.Page)] = rt.Page
		}
	}
	return r
}

// Route resolves path for the gate state. Protected content is only ever
// rendered for an authenticated identity whose uid matches the path.
func (r *Router) Route(path string, state State, id *model.Identity) Outcome {
	path = clean(path)
	if p, ok := r.public[path]; ok {
		return Outcome{Kind: Render, Page: p}
	}

	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	var page Page
	switch {
	case path == "/":
		page = Dashboard
	case len(segs) == 1:
		// "/:uid" alone is the index of that user
		page = Dashboard
	case len(segs) == 2:
		p, ok := r.protected[segs[1]]
		if !ok {
			return redirect(NotFoundPath)
		}
		page = p
	default:
		return redirect(NotFoundPath)
	}

	switch {
	case state == Unknown:
		return Outcome{Kind: Hold}
	case state == Unauthenticated || id == nil || id.UID == "":
		return redirect(SignInPath)
	}

	if path == "/" || len(segs) == 1 {
		return redirect(Path(id.UID, page))
	}
	uid, err := url.PathUnescape(segs[0])
	if err != nil || uid != id.UID {
		return redirect(Path(id.UID, page))
	}
	return Outcome{Kind: Render, Page: page, UID: id.UID}
}

func redirect(loc string) Outcome {
	return Outcome{Kind: Redirect, Location: loc}
}

func clean(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}
