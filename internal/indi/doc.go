// Package indi implements the client side of the INDI instrument-control
// protocol for the INDI panel.
//
// A single Client owns one persistent TCP connection to an INDI server. A
// background read loop (started once with Run) splits the incoming byte
// stream into top-level XML documents, applies property definitions, updates
// and deletions to an in-memory Store, and captures binary BLOB payloads to
// disk. Request handlers call Connect, Disconnect, SendRaw, StartImagingJob
// and Snapshot concurrently with the loop.
//
// # Wire Format
//
// INDI traffic is a sequence of independent XML documents with no delimiter
// other than matching tag names:
//
//	<defNumberVector device="CCD Simulator" name="CCD_EXPOSURE" state="Idle">
//	  <defNumber name="CCD_EXPOSURE_VALUE">1</defNumber>
//	</defNumberVector>
//	<setNumberVector device="CCD Simulator" name="CCD_EXPOSURE" state="Busy">
//	  <oneNumber name="CCD_EXPOSURE_VALUE">0.5</oneNumber>
//	</setNumberVector>
//
// The Framer is a flat tag matcher, not a nesting-aware parser: a document
// that contains a nested element with its own tag name, or a literal '>'
// inside an attribute value, is split incorrectly.
//
// # BLOB Payloads
//
// With the raw framing strategy (the default) a setBLOBVector document is
// followed on the wire by exactly size bytes of binary payload. The read loop
// switches to BLOB mode, reads those bytes straight from the socket and
// writes them under the images directory. With the inline strategy the
// payload is base64 text inside the oneBLOB element instead.
//
// # Thread Safety
//
// All exported methods on Client and Store are safe for concurrent use.
// Store mutations and snapshot reads share one lock, so readers never see a
// partially applied document.
package indi
