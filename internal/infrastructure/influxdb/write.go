package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementNumber holds INDI number-vector element values.
const MeasurementNumber = "indi_number"

// WriteNumberVector records the element values of one number vector.
// The write is non-blocking; points are batched and sent asynchronously.
//
// Example:
//
//	client.WriteNumberVector("CCD Simulator", "CCD_TEMPERATURE",
//	    map[string]float64{"CCD_TEMPERATURE_VALUE": -10}, time.Now())
func (c *Client) WriteNumberVector(device, property string, values map[string]float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	for _, p := range NumberPoints(device, property, values, ts) {
		c.writeAPI.WritePoint(p)
	}
}

// NumberPoints builds one point per element: measurement indi_number, tags
// device/property/element, field value.
func NumberPoints(device, property string, values map[string]float64, ts time.Time) []*write.Point {
	points := make([]*write.Point, 0, len(values))
	for element, v := range values {
		points = append(points, write.NewPoint(
			MeasurementNumber,
			map[string]string{
				"device":   device,
				"property": property,
				"element":  element,
			},
			map[string]interface{}{
				"value": v,
			},
			ts,
		))
	}
	return points
}
