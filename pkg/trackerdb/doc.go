/*
Package trackerdb implements methods to query an sqlite3 database holding
the history of every device the backend has ever seen holding a DHCP lease.

Q: Why do we need such a "tracker DB" when the Technitium server already
returns the current lease list?
A: The lease list and the tracker DB solve two different issues: the lease
list contains the _current_ set of devices. If a device fails to renew its
lease, its entry eventually disappears from the server. The tracker DB
instead maintains an history of _any_ device that ever connected. Rows are
upserted on every successful polling cycle and deleted on a configurable
time-basis.

Q: What do we use the tracker DB for?
A: To implement the "Past devices" feature of the web UI: devices that held
a lease in the past but are absent from the current lease list, still
retrievable until the configured retention expires.

Q: Where are rows added and removed?
A: Both in golang code: the reconciliation coordinator upserts every device
of a successful cycle; the purge goroutine removes rows whose last_seen is
older than the configured retention.
*/
package trackerdb
