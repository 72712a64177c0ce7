// Package influxdb records INDI telemetry in InfluxDB v2.
//
// Number-vector element values from property definitions and updates are
// written as points of measurement indi_number, tagged by device, property,
// and element, with a single float field "value". Writes go through the
// client library's batched non-blocking API (batch_size, flush_interval in
// config.yaml); failures arrive asynchronously via SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteNumberVector("CCD Simulator", "CCD_TEMPERATURE",
//	    map[string]float64{"CCD_TEMPERATURE_VALUE": -10}, time.Now())
//
// All methods are safe for concurrent use.
package influxdb
