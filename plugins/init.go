// Package plugins registers all built-in plugins.
package plugins

import (
	"firestige.xyz/pandit/pkg/plugin"
	"firestige.xyz/pandit/plugins/capture/afpacket"
	"firestige.xyz/pandit/plugins/capture/pcapfile"
	"firestige.xyz/pandit/plugins/parser/http"
	"firestige.xyz/pandit/plugins/processor/statusfilter"
	"firestige.xyz/pandit/plugins/reporter/console"
	"firestige.xyz/pandit/plugins/reporter/kafka"
)

func init() {
	plugin.RegisterCapturer("afpacket", afpacket.NewAFPacketCapturer)
	plugin.RegisterCapturer("pcapfile", pcapfile.NewPcapFileCapturer)

	plugin.RegisterParser("http", http.NewHTTPParser)

	plugin.RegisterProcessor("statusfilter", statusfilter.NewStatusFilter)

	plugin.RegisterReporter("console", console.NewConsoleReporter)
	plugin.RegisterReporter("kafka", kafka.NewKafkaReporter)
}
