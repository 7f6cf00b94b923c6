// Package comm provides L0 protocol support.
package comm

// L0 protocol is communicated between the stepper firmware (L0) and a
// host (L1) over a byte stream, typically a serial port.
//
// Every message is a frame starting with a two-byte header and ending
// with an 8-bit truncating sum of all preceding bytes:
//
//   command (host to firmware):   AA 22 op  len payload... sum
//   response (firmware to host):  AA 55 len op  payload... sum
//
// In responses, len counts the opcode byte as well as the payload.
// Commands are acknowledged with an ACK response carrying the sum of the
// opcode and payload bytes. There is no negative acknowledgement: a frame
// with a bad checksum is dropped and the sender times out.
//
// Producer of commands: L1 host
// Consumer of commands: L0 firmware
