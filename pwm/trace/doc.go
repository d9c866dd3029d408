// Package trace provides sinks for pwm trace records: a CBOR stream
// recorder and reader, a bounded in-memory ring, a logrus adapter and a
// fan-out.
//
//	rec, _ := trace.Create("pwm.cbor")
//	defer rec.Close()
//	pwm.SetTracer(trace.Multi{rec, trace.NewLog(log)})
package trace
