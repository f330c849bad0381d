package browser

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"
)

//go:embed protect.js.tmpl
var protectSource string

var protectTmpl = template.Must(template.New("protect").Funcs(template.FuncMap{
	"jsstr": func(s string) (string, error) {
		b, err := json.Marshal(s)
		return string(b), err
	},
}).Parse(protectSource))

// assetParam is the query parameter that pins a context to its asset.
const assetParam = "asset"

type protectParams struct {
	Asset       string
	Param       string
	ProfilePath string
	KeepaliveMs int64
	ActivityMs  int64
}

// ProtectionScript renders the script injected into every document of an
// asset's context. It keeps the context on the asset's URL and the session
// warm.
func ProtectionScript(brokerID, profilePath string, keepalive time.Duration) (string, error) {
	if keepalive <= 0 {
		keepalive = 240 * time.Second
	}
	var b strings.Builder
	err := protectTmpl.Execute(&b, protectParams{
		Asset:       brokerID,
		Param:       assetParam,
		ProfilePath: profilePath,
		KeepaliveMs: keepalive.Milliseconds(),
		ActivityMs:  (30 * time.Second).Milliseconds(),
	})
	if err != nil {
		return "", fmt.Errorf("render protection script: %w", err)
	}
	return b.String(), nil
}

// AssetURL is the trading page pinned to brokerID.
func AssetURL(baseURL, brokerID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set(assetParam, brokerID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

const inspectScript = `(function (errSel, okSel) {
  function visible(el) {
    if (!el) { return false; }
    var r = el.getBoundingClientRect();
    var s = window.getComputedStyle(el);
    return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
  }
  for (var i = 0; i < errSel.length; i++) {
    var els = document.querySelectorAll(errSel[i]);
    for (var j = 0; j < els.length; j++) {
      if (visible(els[j])) {
        return { error: ((els[j].innerText || '').trim().slice(0, 200)) || errSel[i] };
      }
    }
  }
  if (okSel) {
    var ok = document.querySelector(okSel);
    if (visible(ok)) {
      return { confirmed: true, order_id: ok.getAttribute('data-order-id') || '' };
    }
  }
  return {};
})(%s, %s)`

// inspectExpression builds the DOM inspection run during the observation window.
func inspectExpression(errorSelectors []string, confirmSelector string) string {
	if errorSelectors == nil {
		errorSelectors = []string{}
	}
	errs, _ := json.Marshal(errorSelectors)
	ok, _ := json.Marshal(confirmSelector)
	return fmt.Sprintf(inspectScript, errs, ok)
}
