package server

import "time"

type ServerListConfig struct {
	Config      string `usage:"Name or full [path] to a JSON server list file, such as serverlist.json"`
	ConfigWatch bool   `usage:"Watch for server list file changes"`
}

type WebhookConfig struct {
	Url string `usage:"If set, a POST request that contains session open and close events will be sent to this HTTP address"`
}

type Config struct {
	Ports            []string `default:"27015" usage:"Comma delimited or repeated listener [port]s, either single values or ranges like 27015-27020"`
	EphemeralPorts   int      `usage:"Number of additional listeners bound to OS assigned ports"`
	Backends         []string `usage:"Comma delimited or repeated backend game server host:port addresses"`
	ServerList       ServerListConfig
	BackendSelection string   `default:"round-robin" usage:"How a new session picks its backend: round-robin,random"`
	QueryBackends    []string `usage:"Backends polled for A2S_INFO and A2S_PLAYER replies. Defaults to the current first backend of the pool"`

	IdleTimeout       time.Duration `default:"10s" usage:"Sessions without client traffic for this long are evicted"`
	IdleCheckInterval time.Duration `default:"5s" usage:"How often each session checks for idleness, must be less than idle-timeout"`
	QueryInterval     time.Duration `default:"5s" usage:"Interval between discovery refreshes"`
	QueryTimeout      time.Duration `default:"2s" usage:"Timeout of a single discovery exchange"`

	ServerNames      []string `usage:"Server names randomly substituted into A2S_INFO replies"`
	MapNames         []string `usage:"Map names randomly substituted into A2S_INFO replies"`
	ForcePlayerCount int      `default:"-1" usage:"If zero or more, the player count reported in A2S_INFO replies"`
	AdvertiseHost    string   `default:"127.0.0.1" usage:"Host stamped into GoldSrc A2S_INFO replies together with the listener port"`
	QueryCharset     string   `usage:"Charset, such as gbk or windows-1251, that substituted server and map names are encoded into"`

	ClientsToAllow []string `usage:"Zero or more client IP addresses or CIDRs to allow. When given, only these clients are served"`
	ClientsToDeny  []string `usage:"Zero or more client IP addresses or CIDRs to deny, checked before the allow list"`

	LegacyRedirect   bool `usage:"Enable the legacy reconnect redirect that moves a session to another backend"`
	UseProxyProtocol bool `default:"false" usage:"Prefix every datagram sent to a backend with a PROXY protocol v2 header"`

	Webhook WebhookConfig

	ApiBinding string `usage:"The [host:port] bound for servicing API requests"`
	CpuProfile string `usage:"Enables CPU profiling and writes to given path"`

	InKubeCluster         bool   `usage:"Use in-cluster Kubernetes config"`
	KubeConfig            string `usage:"The path to a Kubernetes configuration file"`
	KubeNamespace         string `usage:"The namespace to watch or blank for all, which is the default"`
	InDocker              bool   `usage:"Use Docker service discovery"`
	DockerSocket          string `default:"unix:///var/run/docker.sock" usage:"Path to Docker socket to use"`
	DockerTimeout         int    `default:"0" usage:"Timeout configuration in seconds for the Docker integration"`
	DockerRefreshInterval int    `default:"15" usage:"Refresh interval in seconds for the Docker integration"`
	DockerApiVersion      string `usage:"Instead of auto-negotiating, use specific Docker API version"`

	MetricsBackend       string `default:"discard" usage:"Backend to use for metrics exposure/publishing: discard,expvar,influxdb,prometheus"`
	MetricsBackendConfig MetricsBackendConfig
}
