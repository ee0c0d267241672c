// Package packet buffers decoded packets between the receive goroutines and the application.
//
// Receive goroutines parse frames into packets and append them to a Queue. The application
// drains the queue on its own schedule (a tick) through a Dispatcher which routes every packet
// to the processors registered for its type. Packets cycle strictly
// free list -> waiting -> consumer -> free list, so under steady load no packet is reallocated.
package packet
