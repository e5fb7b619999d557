package actions

import (
	"fmt"
	"net/url"

	"github.com/brojonat/blinks/service/db"
)

// ActionGetResponse is the discovery payload returned by GET and OPTIONS.
type ActionGetResponse struct {
	Type        string       `json:"type"`
	Icon        string       `json:"icon"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Label       string       `json:"label"`
	Links       *ActionLinks `json:"links,omitempty"`
}

// ActionLinks lists the buttons a client renders for a Blink.
type ActionLinks struct {
	Actions []LinkedAction `json:"actions"`
}

// LinkedAction is a single invokable action. Href points at the POST endpoint.
type LinkedAction struct {
	Type       string            `json:"type"`
	Href       string            `json:"href"`
	Label      string            `json:"label"`
	Parameters []ActionParameter `json:"parameters,omitempty"`
}

// ActionParameter is a user-supplied value substituted into Href.
type ActionParameter struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// ActionPostResponse is returned by a successful POST.
type ActionPostResponse struct {
	Type        string `json:"type"`
	Transaction string `json:"transaction"`
	Message     string `json:"message"`
}

// linkedActionType marks a link whose href is POSTed to build a transaction.
const linkedActionType = "post"

var (
	donatePresets = []string{"0.1", "0.5", "1.0"}
	tokenPresets  = []string{"1", "10", "100"}
)

// ActionPath returns the path actions for a Blink are served on.
func ActionPath(kind, id string) string {
	return "/actions/" + url.PathEscape(kind) + "/" + url.PathEscape(id)
}

// BuildDiscovery builds the discovery payload for a Blink. The icon, title,
// description and label are copied verbatim from the record.
func BuildDiscovery(blink *db.Blink) *ActionGetResponse {
	base := ActionPath(blink.Kind, blink.ID)
	unit := Unit(blink)

	var actions []LinkedAction
	if blink.Mint != nil {
		for _, p := range tokenPresets {
			actions = append(actions, LinkedAction{
				Type:  linkedActionType,
				Href:  base + "?amount=" + p,
				Label: fmt.Sprintf("Buy %s %s", p, unit),
			})
		}
		actions = append(actions, LinkedAction{
			Type:  linkedActionType,
			Href:  base + "?amount={amount}",
			Label: "Buy " + unit,
			Parameters: []ActionParameter{{
				Name:     "amount",
				Label:    fmt.Sprintf("Enter a %s amount", unit),
				Type:     "number",
				Required: true,
			}},
		})
	} else {
		for _, p := range donatePresets {
			actions = append(actions, LinkedAction{
				Type:  linkedActionType,
				Href:  base + "?amount=" + p,
				Label: p + " " + unit,
			})
		}
		actions = append(actions, LinkedAction{
			Type:  linkedActionType,
			Href:  base + "?amount={amount}",
			Label: "Send " + unit,
			Parameters: []ActionParameter{{
				Name:     "amount",
				Label:    fmt.Sprintf("Enter a %s amount", unit),
				Type:     "number",
				Required: true,
			}},
		})
	}

	return &ActionGetResponse{
		Type:        "action",
		Icon:        blink.Icon,
		Title:       blink.Title,
		Description: blink.Description,
		Label:       blink.Label,
		Links:       &ActionLinks{Actions: actions},
	}
}

// Unit is the asset name used in labels and messages.
func Unit(blink *db.Blink) string {
	if blink.Mint == nil {
		return "SOL"
	}
	if blink.Symbol != nil && *blink.Symbol != "" {
		return *blink.Symbol
	}
	return "tokens"
}

// SuccessMessage is the message returned with every assembled transaction.
func SuccessMessage(amount float64, unit string) string {
	return fmt.Sprintf("Sending %s %s to the creator", FormatAmount(amount), unit)
}
