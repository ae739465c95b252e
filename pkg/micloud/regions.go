package micloud

// Region is one entry of the closed Mi Cloud region set.
type Region struct {
	Tag  string `json:"tag"  yaml:"tag"`
	Name string `json:"name" yaml:"name"`
}

// regions is the closed set of supported regions, in UI order.
// https://www.openhab.org/addons/bindings/miio/#country-servers
var regions = []Region{
	{Tag: "cn", Name: "China"},
	{Tag: "ru", Name: "Russia"},
	{Tag: "us", Name: "USA"},
	{Tag: "i2", Name: "India"},
	{Tag: "tw", Name: "Taiwan"},
	{Tag: "sg", Name: "Singapore"},
	{Tag: "de", Name: "Germany"},
}

// Regions returns the supported regions in presentation order.
func Regions() []Region {
	out := make([]Region, len(regions))
	copy(out, regions)
	return out
}

// RegionSupported reports whether tag names a supported region.
func RegionSupported(tag string) bool {
	for _, r := range regions {
		if r.Tag == tag {
			return true
		}
	}
	return false
}

// URLConfig carries every endpoint the client talks to. Production values
// come from DefaultURLConfig; tests point the whole config at stub servers.
type URLConfig struct {
	// API maps a region tag to its device API base URL. Tags without a
	// dedicated base (including "i2") fall back to the "cn" entry.
	API map[string]string

	// LoginStep1 and LoginStep2 are the two account login endpoints.
	LoginStep1 string
	LoginStep2 string

	// AccountBase anchors the CAPTCHA and 2FA endpoints and the userId
	// cookie lookup.
	AccountBase string

	// STSBase anchors the serviceToken cookie lookup and the STS URL scan
	// during the 2FA flow.
	STSBase string
}

// DefaultURLConfig returns the production Mi Cloud endpoints.
func DefaultURLConfig() URLConfig {
	const apiHost = "api.io.mi.com/app"

	api := map[string]string{"cn": "https://" + apiHost}
	for _, tag := range []string{"de", "ru", "sg", "tw", "us"} {
		api[tag] = "https://" + tag + "." + apiHost
	}

	return URLConfig{
		API:         api,
		LoginStep1:  "https://account.xiaomi.com/pass/serviceLogin",
		LoginStep2:  "https://account.xiaomi.com/pass/serviceLoginAuth2",
		AccountBase: "https://account.xiaomi.com",
		STSBase:     "https://sts.api.io.mi.com",
	}
}

// apiBase resolves the device API base URL for a region tag, falling back
// to the cn base for tags without a dedicated deployment.
func (u URLConfig) apiBase(region string) string {
	if base, ok := u.API[region]; ok {
		return base
	}
	return u.API["cn"]
}
