// Command mount_logger subscribes to the mount server's status WebSocket and
// records every update in InfluxDB.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"

	"github.com/moonpano/mount_interface/driver"
	"github.com/moonpano/mount_interface/mount"
)

var (
	mountAddr = flag.String("mount", "", "mount server websocket URL (overrides MOUNT_ADDRESS)")
	bucket    = flag.String("bucket", "mount.raw", "influx bucket to write to")
	org       = flag.String("org", "moonpano", "influx organization")
)

// status mirrors the server's websocket payload: the worker status plus the
// moon-tracking flag the server adds.
type status struct {
	mount.Status
	Tracking bool `json:"tracking"`
}

func main() {
	flag.Parse()
	server := os.Getenv("INFLUX_SERVER")
	if server == "" {
		server = "http://localhost:9999"
	}
	client := influxdb2.NewClient(server, os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	// Non-blocking write client
	writeApi := client.WriteApi(*org, *bucket)
	defer writeApi.Close()
	errorsCh := writeApi.Errors()
	go func() {
		for err := range errorsCh {
			log.Printf("write error: %v", err)
		}
	}()
	for {
		if err := logData(writeApi); err != nil {
			log.Print(err)
		}
		time.Sleep(1 * time.Second)
	}
}

// statusFields builds the point fields, one series per jog direction.
func statusFields(st status) map[string]interface{} {
	fields := map[string]interface{}{
		"ra":           st.RA,
		"de":           st.DE,
		"ra_hours":     st.RAHours,
		"de_degrees":   st.DEDegrees,
		"valid":        st.Valid,
		"guiding":      st.Guiding,
		"tracking":     st.Tracking,
		"reversed_ra":  st.ReversedRA,
		"reversed_de":  st.ReversedDE,
		"queue_length": st.QueueLength,
	}
	for d, on := range st.Jogging {
		fields["jogging_"+driver.Direction(d).String()] = on
	}
	return fields
}

func logData(writeApi api.WriteApi) error {
	url := *mountAddr
	if url == "" {
		url = os.Getenv("MOUNT_ADDRESS")
	}
	if url == "" {
		url = "ws://localhost:8502/api/ws"
	}
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	for {
		var st status
		if err := conn.ReadJSON(&st); err != nil {
			return err
		}
		p := influxdb2.NewPoint("mount.status",
			nil,
			statusFields(st),
			time.Now(),
		)
		writeApi.WritePoint(p)
	}
}
