// Package notify fans request status updates out to the push connections
// subscribed to a session. Delivery is best effort: a connection that is
// closed or fails a send is dropped from every session it joined, and a
// periodic sweep removes connections that died without a close
// notification.
package notify
