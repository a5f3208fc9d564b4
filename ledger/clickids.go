package ledger

// clickIDKeys are the attribution fields recognized as click identifiers.
// They are stored separately on each entry so operators can inspect which
// platform click a purchase was attributed to without unpacking the full
// attribution snapshot.
var clickIDKeys = []string{
	"gclid",     // Google Ads
	"gbraid",    // Google Ads (iOS, app-to-web)
	"wbraid",    // Google Ads (iOS, web-to-app)
	"fbclid",    // Meta click ID
	"fbc",       // Meta click cookie
	"fbp",       // Meta browser cookie
	"ttclid",    // TikTok
	"msclkid",   // Microsoft Advertising
	"epik",      // Pinterest
	"li_fat_id", // LinkedIn
	"sccid",     // Snapchat
}

// ExtractClickIDs returns the click identifiers present in an attribution
// snapshot. Returns nil when none are present.
func ExtractClickIDs(attribution map[string]string) map[string]string {
	if len(attribution) == 0 {
		return nil
	}

	var out map[string]string
	for _, key := range clickIDKeys {
		v, ok := attribution[key]
		if !ok || v == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[key] = v
	}
	return out
}
